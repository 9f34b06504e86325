package vm

import (
	"slices"
	"sync"

	"github.com/atlas-lang/atlas/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Debugger hook
// ---------------------------------------------------------------------------

// DebugAction is the hook's verdict for one instruction.
type DebugAction uint8

const (
	DebugContinue DebugAction = iota
	DebugPause
	DebugStep
)

func (a DebugAction) String() string {
	switch a {
	case DebugPause:
		return "pause"
	case DebugStep:
		return "step"
	}
	return "continue"
}

// DebugHook is consulted before every top-level instruction. Any action
// other than DebugContinue stops Run before the instruction executes.
// Instructions run by intrinsic callbacks (the function given to map,
// filter, sort and the like) are not reported, so stepping into such a
// call stops after the intrinsic returns.
type DebugHook interface {
	BeforeInstruction(ip int, op bytecode.Opcode, depth int) DebugAction
}

// ---------------------------------------------------------------------------
// Debugger: breakpoints and stepping
// ---------------------------------------------------------------------------

// StepMode is a one-shot stepping request, cleared when it fires.
type StepMode int

const (
	StepNone StepMode = iota
	StepOver
	StepInto
	StepOut
)

func (m StepMode) String() string {
	switch m {
	case StepOver:
		return "over"
	case StepInto:
		return "into"
	case StepOut:
		return "out"
	}
	return "none"
}

// DebugEvent is sent to Events when the debugger stops the VM.
type DebugEvent struct {
	Type   string // "stopped" or "breakpointHit"
	Reason string
	IP     int
	Depth  int
}

// Debugger implements DebugHook with offset breakpoints and step modes.
// Its control methods may be called from other goroutines.
type Debugger struct {
	mu          sync.Mutex
	breakpoints map[int]bool // offset -> enabled

	stepMode  StepMode
	stepDepth int // frame depth when the step was requested

	pauseRequested bool

	events chan DebugEvent
}

// NewDebugger creates a debugger with no breakpoints.
func NewDebugger() *Debugger {
	return &Debugger{
		breakpoints: make(map[int]bool),
		events:      make(chan DebugEvent, 16),
	}
}

// Events delivers stop notifications. Events are dropped when nobody reads.
func (d *Debugger) Events() <-chan DebugEvent {
	return d.events
}

func (d *Debugger) sendEvent(e DebugEvent) {
	select {
	case d.events <- e:
	default:
	}
}

// SetBreakpoint adds an enabled breakpoint at an instruction offset.
func (d *Debugger) SetBreakpoint(offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.breakpoints[offset] = true
}

// EnableBreakpoint toggles an existing breakpoint. It reports false if
// there is no breakpoint at offset.
func (d *Debugger) EnableBreakpoint(offset int, enabled bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.breakpoints[offset]; !ok {
		return false
	}
	d.breakpoints[offset] = enabled
	return true
}

// ClearBreakpoint removes the breakpoint at offset.
func (d *Debugger) ClearBreakpoint(offset int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.breakpoints, offset)
}

// ClearAllBreakpoints removes every breakpoint.
func (d *Debugger) ClearAllBreakpoints() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.breakpoints)
}

// Breakpoints returns the offsets of all breakpoints, sorted.
func (d *Debugger) Breakpoints() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, 0, len(d.breakpoints))
	for off := range d.breakpoints {
		out = append(out, off)
	}
	slices.Sort(out)
	return out
}

// Step arms a one-shot step relative to the given frame depth.
func (d *Debugger) Step(mode StepMode, depth int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepMode = mode
	d.stepDepth = depth
}

// RequestPause stops the VM before its next instruction.
func (d *Debugger) RequestPause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pauseRequested = true
}

// Continue drops any pending step. A pause requested meanwhile still
// stops the VM at its next instruction.
func (d *Debugger) Continue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stepMode = StepNone
}

// BeforeInstruction implements DebugHook.
func (d *Debugger) BeforeInstruction(ip int, _ bytecode.Opcode, depth int) DebugAction {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pauseRequested {
		d.pauseRequested = false
		d.sendEvent(DebugEvent{Type: "stopped", Reason: "pause", IP: ip, Depth: depth})
		return DebugPause
	}

	if d.shouldStep(depth) {
		reason := "step " + d.stepMode.String()
		d.stepMode = StepNone
		d.sendEvent(DebugEvent{Type: "stopped", Reason: reason, IP: ip, Depth: depth})
		return DebugStep
	}

	if d.breakpoints[ip] {
		d.stepMode = StepNone
		d.sendEvent(DebugEvent{Type: "breakpointHit", Reason: "breakpoint", IP: ip, Depth: depth})
		return DebugPause
	}
	return DebugContinue
}

func (d *Debugger) shouldStep(depth int) bool {
	switch d.stepMode {
	case StepInto:
		return true
	case StepOver:
		return depth <= d.stepDepth
	case StepOut:
		return depth < d.stepDepth
	}
	return false
}
