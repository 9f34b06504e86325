package vm

import (
	"encoding/binary"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

// operandLen is the operand byte count per opcode, -1 for undefined bytes.
var operandLen = func() (t [256]int8) {
	for i := range t {
		t[i] = -1
	}
	for _, op := range bytecode.AllOpcodes() {
		t[op] = int8(op.OperandLen())
	}
	return t
}()

// execute runs instructions until the frame stack drops to entryDepth, the
// program terminates or a debugger pause is requested. Run uses depth 0,
// which only the main frame's termination can end; intrinsic callbacks use
// the depth below their own frame.
func (vm *VM) execute(entryDepth int) error {
	for !vm.done && !vm.pausePending && len(vm.frames) > entryDepth {
		if err := vm.step(); err != nil {
			return err
		}
	}
	return nil
}

// step decodes and executes one instruction.
func (vm *VM) step() error {
	code := vm.bc.Instructions
	if vm.ip >= len(code) {
		vm.opIP = vm.ip
		if vm.nested > 0 {
			return vm.fault(KindOutOfBounds, "callback ran past the end of the code")
		}
		vm.finish()
		return nil
	}

	vm.opIP = vm.ip
	op := bytecode.Opcode(code[vm.ip])

	if vm.instrumented {
		if vm.debugger != nil && vm.nested == 0 {
			if vm.skipHook {
				vm.skipHook = false
			} else if vm.debugger.BeforeInstruction(vm.ip, op, len(vm.frames)) != DebugContinue {
				vm.pausePending = true
				return nil
			}
		}
		if vm.profiler != nil {
			vm.profiler.record(vm.ip, op, len(vm.stack), len(vm.frames))
		}
	}

	n := operandLen[op]
	if n < 0 {
		return vm.fault(KindUnknownOpcode, "byte 0x%02X at %04X", byte(op), vm.ip)
	}
	if vm.ip+1+int(n) > len(code) {
		return vm.fault(KindUnknownOpcode, "%s at %04X is missing its operand", op, vm.ip)
	}
	operands := code[vm.ip+1 : vm.ip+1+int(n)]
	vm.ip += 1 + int(n)

	switch op {
	// --- Stack ---
	case bytecode.OpPop:
		_, err := vm.pop()
		return err

	case bytecode.OpDup:
		v, err := vm.peek()
		if err != nil {
			return err
		}
		vm.push(v.Retain())

	// --- Constants ---
	case bytecode.OpConstant:
		idx := int(binary.BigEndian.Uint16(operands))
		c, ok := vm.bc.Constant(idx)
		if !ok {
			return vm.fault(KindOutOfBounds, "constant %d out of range (pool has %d)", idx, len(vm.bc.Constants))
		}
		vm.push(c.Retain())

	case bytecode.OpNull:
		vm.push(value.Null())

	case bytecode.OpTrue:
		vm.push(value.Bool(true))

	case bytecode.OpFalse:
		vm.push(value.Bool(false))

	// --- Variables ---
	case bytecode.OpGetLocal:
		abs, err := vm.localSlot(int(binary.BigEndian.Uint16(operands)))
		if err != nil {
			return err
		}
		if vm.own.localMoved(abs) {
			return vm.fault(KindTypeError, "use of moved value in local slot %d", abs-vm.frame().StackBase)
		}
		vm.push(vm.stack[abs].Retain())
		vm.own.tagLocal(abs)

	case bytecode.OpSetLocal:
		abs, err := vm.localSlot(int(binary.BigEndian.Uint16(operands)))
		if err != nil {
			return err
		}
		v, err := vm.peek()
		if err != nil {
			return err
		}
		vm.stack[abs] = v.Retain()
		vm.own.localWritten(abs)

	case bytecode.OpGetGlobal:
		name, err := vm.globalName(operands)
		if err != nil {
			return err
		}
		if vm.own.globalMoved(name) {
			return vm.fault(KindTypeError, "use of moved value %q", name)
		}
		v, err := vm.resolveGlobal(name)
		if err != nil {
			return err
		}
		vm.push(v.Retain())
		vm.own.tagGlobal(name)

	case bytecode.OpSetGlobal:
		name, err := vm.globalName(operands)
		if err != nil {
			return err
		}
		v, err := vm.peek()
		if err != nil {
			return err
		}
		vm.globals[name] = v.Retain()
		vm.own.globalWritten(name)

	// --- Closures ---
	case bytecode.OpMakeClosure:
		return vm.makeClosure(int(binary.BigEndian.Uint16(operands)), int(operands[2]))

	case bytecode.OpGetUpvalue:
		cell, err := vm.upvalue(int(binary.BigEndian.Uint16(operands)))
		if err != nil {
			return err
		}
		vm.push(cell.Get().Retain())

	case bytecode.OpSetUpvalue:
		cell, err := vm.upvalue(int(binary.BigEndian.Uint16(operands)))
		if err != nil {
			return err
		}
		v, err := vm.peek()
		if err != nil {
			return err
		}
		cell.Set(v.Retain())

	// --- Arithmetic, comparison, logic ---
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
		a, b, err := vm.pop2()
		if err != nil {
			return err
		}
		r, err := vm.arith(op, a, b)
		if err != nil {
			return err
		}
		vm.push(r)

	case bytecode.OpNegate:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		n, ok := v.AsNumber()
		if !ok {
			return vm.fault(KindTypeError, "cannot negate %s", v.TypeName())
		}
		vm.push(value.Number(-n))

	case bytecode.OpEqual, bytecode.OpNotEqual:
		a, b, err := vm.pop2()
		if err != nil {
			return err
		}
		vm.push(value.Bool(value.Equal(a, b) == (op == bytecode.OpEqual)))

	case bytecode.OpLess, bytecode.OpLessEqual, bytecode.OpGreater, bytecode.OpGreaterEqual:
		a, b, err := vm.pop2()
		if err != nil {
			return err
		}
		r, err := vm.compare(op, a, b)
		if err != nil {
			return err
		}
		vm.push(value.Bool(r))

	case bytecode.OpNot:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(value.Bool(!v.Truthy()))

	case bytecode.OpAnd, bytecode.OpOr:
		a, b, err := vm.pop2()
		if err != nil {
			return err
		}
		if op == bytecode.OpAnd {
			vm.push(value.Bool(a.Truthy() && b.Truthy()))
		} else {
			vm.push(value.Bool(a.Truthy() || b.Truthy()))
		}

	// --- Control flow ---
	case bytecode.OpJump, bytecode.OpLoop:
		return vm.jump(operands)

	case bytecode.OpJumpIfFalse:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if !v.Truthy() {
			return vm.jump(operands)
		}

	// --- Calls ---
	case bytecode.OpCall:
		return vm.callValue(int(operands[0]))

	case bytecode.OpReturn:
		return vm.doReturn()

	// --- Arrays ---
	case bytecode.OpArray:
		elems, err := vm.popN(int(binary.BigEndian.Uint16(operands)))
		if err != nil {
			return err
		}
		vm.push(value.NewArray(elems))

	case bytecode.OpGetIndex:
		target, idx, err := vm.pop2()
		if err != nil {
			return err
		}
		v, err := vm.getIndex(target, idx)
		if err != nil {
			return err
		}
		vm.push(v.Retain())

	case bytecode.OpSetIndex:
		vals, err := vm.popN(3)
		if err != nil {
			return err
		}
		v, err := vm.setIndex(vals[0], vals[1], vals[2])
		if err != nil {
			return err
		}
		vm.push(v)

	// --- Pattern matching ---
	case bytecode.OpIsOptionSome, bytecode.OpIsOptionNone, bytecode.OpIsResultOk, bytecode.OpIsResultErr, bytecode.OpIsArray:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		vm.push(value.Bool(matches(op, v)))

	case bytecode.OpExtractOptionValue:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		p, ok := v.OptionPayload()
		if !ok {
			return vm.fault(KindTypeError, "cannot extract a value from %s", v.Inspect())
		}
		vm.push(p.Retain())

	case bytecode.OpExtractResultValue:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		if v.Kind() != value.KindResult {
			return vm.fault(KindTypeError, "cannot extract a result value from %s", v.TypeName())
		}
		p, _ := v.ResultPayload()
		vm.push(p.Retain())

	case bytecode.OpGetArrayLen:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		arr := v.AsArray()
		if arr == nil {
			return vm.fault(KindTypeError, "expected an array, got %s", v.TypeName())
		}
		vm.push(value.Number(float64(arr.Len())))

	case bytecode.OpHalt:
		if vm.nested > 0 {
			return vm.fault(KindTypeError, "HALT inside a callback")
		}
		vm.finish()

	default:
		return vm.fault(KindUnknownOpcode, "%s has no handler", op)
	}
	return nil
}

// finish terminates the program. The result is the value above the current
// frame's locals, or null when there is none.
func (vm *VM) finish() {
	fr := vm.frame()
	vm.result = value.Null()
	if len(vm.stack) > fr.StackBase+fr.LocalCount {
		vm.result = vm.stack[len(vm.stack)-1]
	}
	vm.done = true
}

func (vm *VM) jump(operands []byte) error {
	target := vm.ip + int(int16(binary.BigEndian.Uint16(operands)))
	if target < 0 || target > len(vm.bc.Instructions) {
		return vm.fault(KindOutOfBounds, "jump target %d outside code of length %d", target, len(vm.bc.Instructions))
	}
	vm.ip = target
	return nil
}

// localSlot converts a frame-relative slot into a stack index.
func (vm *VM) localSlot(slot int) (int, error) {
	fr := vm.frame()
	if slot >= fr.LocalCount {
		return 0, vm.fault(KindOutOfBounds, "local slot %d out of range (%s has %d)", slot, fr.Function, fr.LocalCount)
	}
	abs := fr.StackBase + slot
	if abs >= len(vm.stack) {
		return 0, vm.fault(KindStackUnderflow, "local slot %d is not on the stack", slot)
	}
	return abs, nil
}

func (vm *VM) globalName(operands []byte) (string, error) {
	idx := int(binary.BigEndian.Uint16(operands))
	c, ok := vm.bc.Constant(idx)
	if !ok {
		return "", vm.fault(KindOutOfBounds, "constant %d out of range (pool has %d)", idx, len(vm.bc.Constants))
	}
	name, ok := c.AsString()
	if !ok {
		return "", vm.fault(KindTypeError, "global name constant %d is %s, not a string", idx, c.TypeName())
	}
	return name, nil
}

// resolveGlobal reads a global, falling back to the None constructor,
// builtins, externs and math constants for names never assigned.
func (vm *VM) resolveGlobal(name string) (value.Value, error) {
	if v, ok := vm.globals[name]; ok {
		return v, nil
	}
	if name == "None" {
		return value.NoneConstructor(), nil
	}
	if _, ok := intrinsics[name]; ok {
		return value.Builtin(name), nil
	}
	if stdlib.IsBuiltin(name) {
		return value.Builtin(name), nil
	}
	if _, ok := vm.externs[name]; ok {
		return value.Builtin(name), nil
	}
	if c, ok := stdlib.Constant(name); ok {
		return c, nil
	}
	return value.Null(), vm.fault(KindUndefinedVariable, "%s is not defined", name)
}

func (vm *VM) upvalue(idx int) (*value.Cell, error) {
	fr := vm.frame()
	cell, ok := fr.Upvalues.Cell(idx)
	if !ok {
		return nil, vm.fault(KindOutOfBounds, "upvalue %d out of range (%s has %d)", idx, fr.Function, fr.Upvalues.Len())
	}
	return cell, nil
}

func matches(op bytecode.Opcode, v value.Value) bool {
	switch op {
	case bytecode.OpIsOptionSome:
		return v.IsSome()
	case bytecode.OpIsOptionNone:
		return v.IsNone()
	case bytecode.OpIsResultOk:
		return v.IsOk()
	case bytecode.OpIsResultErr:
		return v.IsErr()
	case bytecode.OpIsArray:
		return v.Kind() == value.KindArray
	}
	return false
}
