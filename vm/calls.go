package vm

import (
	"errors"

	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

// callValue calls the value sitting below the top argc values.
func (vm *VM) callValue(argc int) error {
	calleeIdx := len(vm.stack) - 1 - argc
	if calleeIdx < 0 {
		return vm.fault(KindStackUnderflow, "call with %d arguments on a stack of %d", argc, len(vm.stack))
	}
	callee := vm.stack[calleeIdx]
	if vm.profiler != nil {
		vm.profiler.recordCall(calleeName(callee))
	}

	switch callee.Kind() {
	case value.KindFunction:
		return vm.callFunction(callee.AsFunction(), nil, argc)
	case value.KindClosure:
		c := callee.AsClosure()
		return vm.callFunction(c.Function, c.Upvalues, argc)
	case value.KindBuiltin:
		name, _ := callee.BuiltinName()
		return vm.callBuiltin(name, argc)
	case value.KindNative:
		return vm.callNative(callee.AsNative(), argc)
	case value.KindNoneConstructor:
		if argc != 0 {
			return vm.fault(KindTypeError, "None expects 0 arguments, got %d", argc)
		}
		vm.truncate(calleeIdx)
		vm.push(value.None())
		return nil
	}
	return vm.fault(KindTypeError, "cannot call %s", callee.TypeName())
}

func calleeName(v value.Value) string {
	switch v.Kind() {
	case value.KindFunction:
		return v.AsFunction().Name
	case value.KindClosure:
		return v.AsClosure().Function.Name
	case value.KindNative:
		return v.AsNative().Name
	case value.KindBuiltin:
		name, _ := v.BuiltinName()
		return name
	case value.KindNoneConstructor:
		return "None"
	}
	return "<" + v.TypeName() + ">"
}

// callFunction pushes a frame for a compiled function. The arguments
// become the first local slots; the rest are reserved as null.
func (vm *VM) callFunction(fn *value.FunctionDescriptor, up *value.Upvalues, argc int) error {
	if argc != fn.Arity {
		return vm.fault(KindTypeError, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
	}
	if len(vm.frames) >= vm.maxFrames {
		return vm.fault(KindStackOverflow, "call depth exceeds %d frames calling %s", vm.maxFrames, fn.Name)
	}
	if fn.BytecodeOffset < 0 || fn.BytecodeOffset >= len(vm.bc.Instructions) {
		return vm.fault(KindOutOfBounds, "%s starts at %d, outside code of length %d", fn.Name, fn.BytecodeOffset, len(vm.bc.Instructions))
	}

	base := len(vm.stack) - argc
	if fn.HasOwnershipAnnotations() {
		violation, warnings := vm.own.checkCall(fn, vm.stack[base:], base)
		for _, w := range warnings {
			log.Warning(w)
		}
		if violation != "" {
			return vm.fault(KindTypeError, "%s", violation)
		}
	}

	locals := max(fn.LocalCount, argc)
	for range locals - argc {
		vm.push(value.Null())
	}
	vm.frames = append(vm.frames, CallFrame{
		Function:   fn.Name,
		ReturnIP:   vm.ip,
		StackBase:  base,
		LocalCount: locals,
		Upvalues:   up,
	})
	vm.ip = fn.BytecodeOffset
	return nil
}

// doReturn pops the current frame. Returning from main ends the program.
func (vm *VM) doReturn() error {
	fr := vm.frame()
	result := value.Null()
	if len(vm.stack) > fr.StackBase+fr.LocalCount {
		result, _ = vm.pop()
	}
	if len(vm.frames) == 1 {
		vm.result = result
		vm.done = true
		return nil
	}
	// The callee value sits just below the frame.
	vm.truncate(fr.StackBase - 1)
	vm.ip = fr.ReturnIP
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.push(result)
	return nil
}

func (vm *VM) callNative(fn *value.NativeFunction, argc int) error {
	if fn.Arity >= 0 && argc != fn.Arity {
		return vm.fault(KindTypeError, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
	}
	args, err := vm.popN(argc)
	if err != nil {
		return err
	}
	if _, err := vm.pop(); err != nil {
		return err
	}
	v, err := fn.Fn(args)
	if err != nil {
		return vm.wrapFault(KindTypeError, err)
	}
	vm.push(v)
	return nil
}

// callBuiltin resolves a builtin marker: intrinsics first, then the
// standard library, then loaded externs.
func (vm *VM) callBuiltin(name string, argc int) error {
	args, err := vm.popN(argc)
	if err != nil {
		return err
	}
	if _, err := vm.pop(); err != nil {
		return err
	}

	var v value.Value
	if in, ok := intrinsics[name]; ok {
		if argc != in.arity {
			return vm.fault(KindTypeError, "%s expects %d arguments, got %d", name, in.arity, argc)
		}
		v, err = in.fn(vm, args)
	} else if b, ok := stdlib.Lookup(name); ok {
		v, err = b.Call(vm.ctx, args)
	} else if ext, ok := vm.externs[name]; ok {
		v, err = ext.call(vm.ctx, args)
	} else {
		return vm.fault(KindUnknownFunction, "%s", name)
	}
	if err != nil {
		return vm.libraryFault(err)
	}
	vm.push(v)
	return nil
}

// libraryFault classifies an error returned by a builtin or extern.
func (vm *VM) libraryFault(err error) error {
	kind := KindTypeError
	switch {
	case errors.Is(err, stdlib.ErrPermissionDenied):
		kind = KindPermissionDenied
	case errors.Is(err, stdlib.ErrOutOfBounds):
		kind = KindOutOfBounds
	case errors.Is(err, stdlib.ErrInvalidNumeric):
		kind = KindInvalidNumericResult
	}
	return vm.wrapFault(kind, err)
}

// makeClosure pops count capture values (in push order) and binds them to
// the function's capture descriptors. A forwarded upvalue shares the
// enclosing frame's cell; a local capture gets a fresh cell.
func (vm *VM) makeClosure(constIdx, count int) error {
	c, ok := vm.bc.Constant(constIdx)
	if !ok {
		return vm.fault(KindOutOfBounds, "constant %d out of range (pool has %d)", constIdx, len(vm.bc.Constants))
	}
	fn := c.AsFunction()
	if fn == nil {
		return vm.fault(KindTypeError, "MAKE_CLOSURE needs a function constant, got %s", c.TypeName())
	}
	if count != len(fn.Captures) {
		return vm.fault(KindTypeError, "%s declares %d captures, MAKE_CLOSURE supplies %d", fn.Name, len(fn.Captures), count)
	}
	vals, err := vm.popN(count)
	if err != nil {
		return err
	}
	enclosing := vm.frame().Upvalues
	cells := make([]*value.Cell, count)
	for i, capture := range fn.Captures {
		if capture.Source == value.CaptureUpvalue {
			cell, ok := enclosing.Cell(int(capture.Index))
			if !ok {
				return vm.fault(KindOutOfBounds, "%s forwards upvalue %d, enclosing frame has %d", fn.Name, capture.Index, enclosing.Len())
			}
			cells[i] = cell
			continue
		}
		cells[i] = value.NewCell(vals[i])
	}
	vm.push(value.FromClosure(&value.Closure{Function: fn, Upvalues: value.NewUpvalues(cells)}))
	return nil
}

// callCallback invokes fn with args from native code and returns its
// result. Compiled callees run on a nested dispatch loop that stops when
// their frame returns.
func (vm *VM) callCallback(fn value.Value, args ...value.Value) (value.Value, error) {
	if n := fn.AsNative(); n != nil {
		if n.Arity >= 0 && len(args) != n.Arity {
			return value.Null(), vm.fault(KindTypeError, "%s expects %d arguments, got %d", n.Name, n.Arity, len(args))
		}
		return n.Fn(args)
	}

	savedIP, savedOpIP := vm.ip, vm.opIP
	depth := len(vm.frames)
	vm.push(fn)
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.callValue(len(args)); err != nil {
		return value.Null(), err
	}
	if len(vm.frames) > depth {
		vm.nested++
		err := vm.execute(depth)
		vm.nested--
		if err != nil {
			return value.Null(), err
		}
	}
	vm.ip, vm.opIP = savedIP, savedOpIP
	return vm.pop()
}
