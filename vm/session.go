package vm

import (
	"slices"

	"github.com/google/uuid"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
)

// DebugSession pairs a VM with a Debugger and drives it with the usual
// continue and step commands. Every command runs the VM until the next
// stop, termination or fault.
type DebugSession struct {
	ID uuid.UUID

	vm  *VM
	dbg *Debugger
}

// NewDebugSession creates a VM for bc with a fresh debugger installed.
// The VM does not start until the first command.
func NewDebugSession(bc *bytecode.Bytecode, opts ...Option) *DebugSession {
	dbg := NewDebugger()
	opts = append(slices.Clone(opts), WithDebugger(dbg))
	s := &DebugSession{ID: uuid.New(), vm: New(bc, opts...), dbg: dbg}
	log.Debugf("debug session %s created", s.ID)
	return s
}

func (s *DebugSession) VM() *VM             { return s.vm }
func (s *DebugSession) Debugger() *Debugger { return s.dbg }

// Continue runs until a breakpoint, a pause request or the end.
func (s *DebugSession) Continue() (value.Value, error) {
	s.dbg.Continue()
	return s.vm.Run()
}

// StepInto stops at the next instruction, entering calls.
func (s *DebugSession) StepInto() (value.Value, error) {
	return s.step(StepInto)
}

// StepOver stops at the next instruction in the current frame or a caller.
func (s *DebugSession) StepOver() (value.Value, error) {
	return s.step(StepOver)
}

// StepOut stops once the current frame has returned.
func (s *DebugSession) StepOut() (value.Value, error) {
	return s.step(StepOut)
}

func (s *DebugSession) step(mode StepMode) (value.Value, error) {
	s.dbg.Step(mode, s.vm.FrameDepth())
	return s.vm.Run()
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

// Snapshot is a rendering of the VM state for tooling. Values appear in
// their inspected form.
type Snapshot struct {
	SessionID   string            `cbor:"sessionId"`
	IP          int               `cbor:"ip"`
	Span        bytecode.Span     `cbor:"span"`
	Instruction string            `cbor:"instruction,omitempty"`
	Paused      bool              `cbor:"paused"`
	Done        bool              `cbor:"done"`
	StackSize   int               `cbor:"stackSize"`
	Frames      []FrameSnapshot   `cbor:"frames"`
	Globals     map[string]string `cbor:"globals"`
}

// FrameSnapshot describes one call frame; Frames[0] is main.
type FrameSnapshot struct {
	Function  string   `cbor:"function"`
	ReturnIP  int      `cbor:"returnIp"`
	StackBase int      `cbor:"stackBase"`
	Locals    []string `cbor:"locals"`
	Upvalues  []string `cbor:"upvalues,omitempty"`
}

// Snapshot captures the current state of the session's VM.
func (s *DebugSession) Snapshot() *Snapshot {
	snap := SnapshotVM(s.vm)
	snap.SessionID = s.ID.String()
	return snap
}

// SnapshotVM captures a VM's state without a session.
func SnapshotVM(vm *VM) *Snapshot {
	snap := &Snapshot{
		IP:        vm.CurrentIP(),
		Span:      vm.CurrentSpan(),
		Paused:    vm.Paused(),
		Done:      vm.Done(),
		StackSize: vm.StackSize(),
		Globals:   make(map[string]string),
	}
	if !snap.Done && snap.IP < len(vm.bc.Instructions) {
		snap.Instruction, _ = vm.bc.DisassembleInstruction(snap.IP)
	}
	for i := range vm.FrameDepth() {
		fr, _ := vm.FrameAt(i)
		snap.Frames = append(snap.Frames, FrameSnapshot{
			Function:  fr.Function,
			ReturnIP:  fr.ReturnIP,
			StackBase: fr.StackBase,
			Locals:    inspectAll(vm.LocalsForFrame(i)),
			Upvalues:  inspectAll(fr.Upvalues.Values()),
		})
	}
	for name, v := range vm.globals {
		snap.Globals[name] = v.Inspect()
	}
	return snap
}

func inspectAll(vals []value.Value) []string {
	if len(vals) == 0 {
		return nil
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.Inspect()
	}
	return out
}
