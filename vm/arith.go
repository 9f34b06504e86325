package vm

import (
	"math"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
)

var arithSymbols = map[bytecode.Opcode]string{
	bytecode.OpAdd:          "+",
	bytecode.OpSub:          "-",
	bytecode.OpMul:          "*",
	bytecode.OpDiv:          "/",
	bytecode.OpMod:          "%",
	bytecode.OpLess:         "<",
	bytecode.OpLessEqual:    "<=",
	bytecode.OpGreater:      ">",
	bytecode.OpGreaterEqual: ">=",
}

// arith applies a binary arithmetic opcode. Division by zero is reported
// before any other numeric check; results must be finite.
func (vm *VM) arith(op bytecode.Opcode, a, b value.Value) (value.Value, error) {
	if op == bytecode.OpAdd {
		if sa, ok := a.AsString(); ok {
			sb, ok := b.AsString()
			if !ok {
				return value.Null(), vm.fault(KindTypeError, "cannot add string and %s", b.TypeName())
			}
			return value.String(sa + sb), nil
		}
	}
	x, okA := a.AsNumber()
	y, okB := b.AsNumber()
	if !okA || !okB {
		return value.Null(), vm.fault(KindTypeError, "cannot apply %s to %s and %s", arithSymbols[op], a.TypeName(), b.TypeName())
	}

	var r float64
	switch op {
	case bytecode.OpAdd:
		r = x + y
	case bytecode.OpSub:
		r = x - y
	case bytecode.OpMul:
		r = x * y
	case bytecode.OpDiv:
		if y == 0 {
			return value.Null(), vm.fault(KindDivideByZero, "%s / 0", value.FormatNumber(x))
		}
		r = x / y
	case bytecode.OpMod:
		if y == 0 {
			return value.Null(), vm.fault(KindDivideByZero, "%s %% 0", value.FormatNumber(x))
		}
		r = math.Mod(x, y)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return value.Null(), vm.fault(KindInvalidNumericResult, "%s %s %s is not finite",
			value.FormatNumber(x), arithSymbols[op], value.FormatNumber(y))
	}
	return value.Number(r), nil
}

// compare applies an ordering opcode. Only numbers are ordered.
func (vm *VM) compare(op bytecode.Opcode, a, b value.Value) (bool, error) {
	x, okA := a.AsNumber()
	y, okB := b.AsNumber()
	if !okA || !okB {
		return false, vm.fault(KindTypeError, "cannot compare %s %s %s", a.TypeName(), arithSymbols[op], b.TypeName())
	}
	switch op {
	case bytecode.OpLess:
		return x < y, nil
	case bytecode.OpLessEqual:
		return x <= y, nil
	case bytecode.OpGreater:
		return x > y, nil
	}
	return x >= y, nil
}

// index validates an index operand: an integral, non-negative number.
func (vm *VM) index(idx value.Value) (int, error) {
	n, ok := idx.AsNumber()
	if !ok {
		return 0, vm.fault(KindInvalidIndex, "index must be a number, got %s", idx.TypeName())
	}
	if n < 0 || n != math.Trunc(n) {
		return 0, vm.fault(KindInvalidIndex, "index must be a non-negative integer, got %s", value.FormatNumber(n))
	}
	// No collection reaches MaxInt32 elements; larger indices would overflow int.
	if n > math.MaxInt32 {
		return 0, vm.fault(KindOutOfBounds, "index %s out of bounds", value.FormatNumber(n))
	}
	return int(n), nil
}

func (vm *VM) getIndex(target, idx value.Value) (value.Value, error) {
	switch target.Kind() {
	case value.KindArray:
		i, err := vm.index(idx)
		if err != nil {
			return value.Null(), err
		}
		arr := target.AsArray()
		if i >= arr.Len() {
			return value.Null(), vm.fault(KindOutOfBounds, "index %d out of bounds for array of length %d", i, arr.Len())
		}
		return arr.At(i), nil
	case value.KindString:
		i, err := vm.index(idx)
		if err != nil {
			return value.Null(), err
		}
		s, _ := target.AsString()
		runes := []rune(s)
		if i >= len(runes) {
			return value.Null(), vm.fault(KindOutOfBounds, "index %d out of bounds for string of length %d", i, len(runes))
		}
		return value.String(string(runes[i])), nil
	}
	return value.Null(), vm.fault(KindTypeError, "cannot index %s", target.TypeName())
}

// setIndex writes through the copy-on-write helper; the result is the
// (possibly new) array.
func (vm *VM) setIndex(target, idx, v value.Value) (value.Value, error) {
	arr := target.AsArray()
	if arr == nil {
		return value.Null(), vm.fault(KindTypeError, "cannot assign into %s", target.TypeName())
	}
	i, err := vm.index(idx)
	if err != nil {
		return value.Null(), err
	}
	if i >= arr.Len() {
		return value.Null(), vm.fault(KindOutOfBounds, "index %d out of bounds for array of length %d", i, arr.Len())
	}
	return value.ArraySet(target, i, v), nil
}
