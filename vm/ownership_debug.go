//go:build atlas_ownership

package vm

import (
	"fmt"

	"github.com/atlas-lang/atlas/pkg/value"
)

// OwnershipTracking reports whether this build enforces ownership
// annotations.
const OwnershipTracking = true

type originKind uint8

const (
	originNone originKind = iota
	originLocal
	originGlobal
)

// shadow mirrors one operand stack slot: where the value in it was read
// from, and whether the slot itself has been moved out of.
type shadow struct {
	origin originKind
	slot   int
	name   string
	moved  bool
}

// ownership is a shadow stack kept parallel to the operand stack.
type ownership struct {
	slots        []shadow
	movedGlobals map[string]bool
}

func (o *ownership) push() {
	o.slots = append(o.slots, shadow{})
}

func (o *ownership) truncate(n int) {
	if n < len(o.slots) {
		o.slots = o.slots[:n]
	}
}

func (o *ownership) top() *shadow {
	if len(o.slots) == 0 {
		return nil
	}
	return &o.slots[len(o.slots)-1]
}

func (o *ownership) tagLocal(abs int) {
	if s := o.top(); s != nil {
		*s = shadow{origin: originLocal, slot: abs}
	}
}

func (o *ownership) tagGlobal(name string) {
	if s := o.top(); s != nil {
		*s = shadow{origin: originGlobal, name: name}
	}
}

func (o *ownership) localWritten(abs int) {
	if abs < len(o.slots) {
		o.slots[abs].moved = false
	}
}

func (o *ownership) globalWritten(name string) {
	delete(o.movedGlobals, name)
}

func (o *ownership) localMoved(abs int) bool {
	return abs < len(o.slots) && o.slots[abs].moved
}

func (o *ownership) globalMoved(name string) bool {
	return o.movedGlobals[name]
}

// checkCall applies fn's parameter annotations to the arguments at
// stack[base:]. An own parameter consumes the local or global the argument
// was read from. A shared parameter without a shared argument is a
// violation; a shared argument to own or borrow only warns.
func (o *ownership) checkCall(fn *value.FunctionDescriptor, args []value.Value, base int) (string, []string) {
	var warnings []string
	for i, arg := range args {
		mode := fn.ParamOwnershipAt(i)
		isShared := arg.Kind() == value.KindShared
		switch mode {
		case value.OwnershipShared:
			if !isShared {
				return fmt.Sprintf("%s parameter %s expects a shared value, got %s", fn.Name, paramName(fn, i), arg.TypeName()), nil
			}
		case value.OwnershipOwn, value.OwnershipBorrow:
			if isShared {
				warnings = append(warnings, fmt.Sprintf("%s passes a shared value to %s parameter %s", fn.Name, mode, paramName(fn, i)))
				continue
			}
			if mode == value.OwnershipOwn && base+i < len(o.slots) {
				o.consume(o.slots[base+i])
			}
		}
	}
	return "", warnings
}

func (o *ownership) consume(s shadow) {
	switch s.origin {
	case originLocal:
		if s.slot < len(o.slots) {
			o.slots[s.slot].moved = true
		}
	case originGlobal:
		if o.movedGlobals == nil {
			o.movedGlobals = make(map[string]bool)
		}
		o.movedGlobals[s.name] = true
	}
}

func paramName(fn *value.FunctionDescriptor, i int) string {
	if i < len(fn.ParamNames) && fn.ParamNames[i] != "" {
		return fn.ParamNames[i]
	}
	return fmt.Sprintf("#%d", i)
}
