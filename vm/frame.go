package vm

import "github.com/atlas-lang/atlas/pkg/value"

// CallFrame is the bookkeeping for one active invocation. The frame owns
// the stack region [StackBase, StackBase+LocalCount); parameters occupy the
// first Arity slots of it.
type CallFrame struct {
	Function   string // diagnostics only
	ReturnIP   int
	StackBase  int
	LocalCount int
	Upvalues   *value.Upvalues // nil for plain functions
}

const mainFrameName = "<main>"

func (vm *VM) frame() *CallFrame {
	return &vm.frames[len(vm.frames)-1]
}

// ============================================================================
// Stack operations
// ============================================================================

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
	vm.own.push()
}

func (vm *VM) pop() (value.Value, error) {
	n := len(vm.stack)
	if n == 0 {
		return value.Null(), vm.fault(KindStackUnderflow, "pop from empty stack")
	}
	v := vm.stack[n-1]
	vm.stack[n-1] = value.Value{}
	vm.truncate(n - 1)
	return v, nil
}

func (vm *VM) pop2() (value.Value, value.Value, error) {
	if len(vm.stack) < 2 {
		return value.Null(), value.Null(), vm.fault(KindStackUnderflow, "need 2 operands, have %d", len(vm.stack))
	}
	b, _ := vm.pop()
	a, _ := vm.pop()
	return a, b, nil
}

func (vm *VM) peek() (value.Value, error) {
	if len(vm.stack) == 0 {
		return value.Null(), vm.fault(KindStackUnderflow, "peek at empty stack")
	}
	return vm.stack[len(vm.stack)-1], nil
}

// truncate drops the stack down to n values.
func (vm *VM) truncate(n int) {
	clear(vm.stack[n:])
	vm.stack = vm.stack[:n]
	vm.own.truncate(n)
}

// popN removes the top n values and returns a copy of them in push order.
func (vm *VM) popN(n int) ([]value.Value, error) {
	if n > len(vm.stack) {
		return nil, vm.fault(KindStackUnderflow, "need %d operands, have %d", n, len(vm.stack))
	}
	base := len(vm.stack) - n
	out := make([]value.Value, n)
	copy(out, vm.stack[base:])
	vm.truncate(base)
	return out, nil
}
