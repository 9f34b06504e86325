package value

import "fmt"

// Ownership is a parameter or return ownership annotation.
type Ownership uint8

const (
	OwnershipNone Ownership = iota
	OwnershipOwn
	OwnershipBorrow
	OwnershipShared
)

// String returns the annotation keyword, or "" for none.
func (o Ownership) String() string {
	switch o {
	case OwnershipOwn:
		return "own"
	case OwnershipBorrow:
		return "borrow"
	case OwnershipShared:
		return "shared"
	case OwnershipNone:
		return ""
	}
	return fmt.Sprintf("Ownership(%d)", o)
}

// ParseOwnership parses an annotation keyword. The empty string is none.
func ParseOwnership(s string) (Ownership, error) {
	switch s {
	case "":
		return OwnershipNone, nil
	case "own":
		return OwnershipOwn, nil
	case "borrow":
		return OwnershipBorrow, nil
	case "shared":
		return OwnershipShared, nil
	}
	return OwnershipNone, fmt.Errorf("unknown ownership annotation %q", s)
}

// CaptureSource says where a closure capture comes from.
type CaptureSource uint8

const (
	// CaptureLocal captures a local slot of the immediately enclosing function.
	CaptureLocal CaptureSource = 0

	// CaptureUpvalue forwards an upvalue the enclosing function already holds.
	CaptureUpvalue CaptureSource = 1
)

func (c CaptureSource) String() string {
	switch c {
	case CaptureLocal:
		return "local"
	case CaptureUpvalue:
		return "upvalue"
	}
	return fmt.Sprintf("CaptureSource(%d)", c)
}

// Capture describes one upvalue of a function.
type Capture struct {
	Name   string
	Source CaptureSource
	Index  uint16 // local slot or enclosing upvalue index
}

// FunctionDescriptor is the constant-pool payload describing a compiled
// function. The compiler emits it with BytecodeOffset 0 and patches it in
// place once the body has been emitted.
type FunctionDescriptor struct {
	Name            string
	Arity           int
	BytecodeOffset  int
	LocalCount      int
	ParamNames      []string
	ParamOwnership  []Ownership
	ReturnOwnership Ownership
	Captures        []Capture
}

// ParamOwnershipAt returns the annotation of parameter i, or none.
func (f *FunctionDescriptor) ParamOwnershipAt(i int) Ownership {
	if i < 0 || i >= len(f.ParamOwnership) {
		return OwnershipNone
	}
	return f.ParamOwnership[i]
}

// HasOwnershipAnnotations reports whether any parameter is annotated.
func (f *FunctionDescriptor) HasOwnershipAnnotations() bool {
	for _, o := range f.ParamOwnership {
		if o != OwnershipNone {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, used when merging bytecode units.
func (f *FunctionDescriptor) Clone() *FunctionDescriptor {
	c := *f
	c.ParamNames = append([]string(nil), f.ParamNames...)
	c.ParamOwnership = append([]Ownership(nil), f.ParamOwnership...)
	c.Captures = append([]Capture(nil), f.Captures...)
	return &c
}

// Cell is one captured variable. Cells are shared between every closure
// that forwards the same capture, so a write through one is visible to all.
type Cell struct {
	v Value
}

// NewCell returns a cell holding v.
func NewCell(v Value) *Cell { return &Cell{v: v} }

func (c *Cell) Get() Value  { return c.v }
func (c *Cell) Set(v Value) { c.v = v }

// Upvalues is the capture list of a closure. The list itself never changes
// after construction; only the cells it points at are written.
type Upvalues struct {
	cells []*Cell
}

// NewUpvalues wraps cells.
func NewUpvalues(cells []*Cell) *Upvalues {
	return &Upvalues{cells: cells}
}

// Len returns the number of captures. A nil list is empty.
func (u *Upvalues) Len() int {
	if u == nil {
		return 0
	}
	return len(u.cells)
}

// Cell returns capture i.
func (u *Upvalues) Cell(i int) (*Cell, bool) {
	if i < 0 || i >= u.Len() {
		return nil, false
	}
	return u.cells[i], true
}

// Values returns a snapshot of the captured values.
func (u *Upvalues) Values() []Value {
	out := make([]Value, u.Len())
	for i := range out {
		out[i] = u.cells[i].v
	}
	return out
}

// Closure is a function plus its captured upvalues.
type Closure struct {
	Function *FunctionDescriptor
	Upvalues *Upvalues
}

// NativeFunc is a host function callable from Atlas code.
type NativeFunc func(args []Value) (Value, error)

// NativeFunction is a host closure. Arity < 0 accepts any argument count.
type NativeFunction struct {
	Name  string
	Arity int
	Fn    NativeFunc
}

// NewNative builds a native function value.
func NewNative(name string, arity int, fn NativeFunc) Value {
	return FromNative(&NativeFunction{Name: name, Arity: arity, Fn: fn})
}
