package vm

import (
	"reflect"
	"slices"
	"testing"

	"github.com/atlas-lang/atlas/pkg/asm"
	"github.com/atlas-lang/atlas/pkg/value"
)

func assembleProgram(t *testing.T, src string) *asm.Program {
	t.Helper()
	prog, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return prog
}

func TestBreakpointManagement(t *testing.T) {
	d := NewDebugger()
	d.SetBreakpoint(12)
	d.SetBreakpoint(3)
	d.SetBreakpoint(7)
	if got := d.Breakpoints(); !slices.Equal(got, []int{3, 7, 12}) {
		t.Errorf("Breakpoints = %v, want [3 7 12]", got)
	}

	if !d.EnableBreakpoint(7, false) {
		t.Error("EnableBreakpoint(7) = false, want true")
	}
	if d.EnableBreakpoint(99, true) {
		t.Error("EnableBreakpoint(99) = true for a missing breakpoint")
	}
	if act := d.BeforeInstruction(7, 0, 1); act != DebugContinue {
		t.Errorf("disabled breakpoint gave %s", act)
	}

	d.ClearBreakpoint(3)
	if got := d.Breakpoints(); !slices.Equal(got, []int{7, 12}) {
		t.Errorf("Breakpoints = %v after clear, want [7 12]", got)
	}
	d.ClearAllBreakpoints()
	if got := d.Breakpoints(); len(got) != 0 {
		t.Errorf("Breakpoints = %v, want none", got)
	}
}

func TestBreakpointPausesBeforeInstruction(t *testing.T) {
	prog := assembleProgram(t, addProgram)
	call := prog.Labels["call"].Offset

	s := NewDebugSession(prog.Bytecode)
	s.Debugger().SetBreakpoint(call)

	if _, err := s.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	vm := s.VM()
	if !vm.Paused() || vm.Done() {
		t.Fatalf("paused/done = %v/%v, want true/false", vm.Paused(), vm.Done())
	}
	if vm.CurrentIP() != call {
		t.Errorf("CurrentIP = %d, want %d", vm.CurrentIP(), call)
	}
	if vm.StackSize() != 3 {
		t.Errorf("StackSize = %d, want 3 (callee and two arguments)", vm.StackSize())
	}

	select {
	case ev := <-s.Debugger().Events():
		if ev.Type != "breakpointHit" || ev.IP != call {
			t.Errorf("event = %+v, want breakpointHit at %d", ev, call)
		}
	default:
		t.Error("no event after breakpoint")
	}

	v, err := s.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if n := numberOf(t, v); n != 5 {
		t.Errorf("result = %v, want 5", n)
	}
	if !vm.Done() {
		t.Error("VM not done after continuing past the breakpoint")
	}
}

func TestStepIntoAndOut(t *testing.T) {
	prog := assembleProgram(t, addProgram)
	bc := prog.Bytecode
	s := NewDebugSession(bc)
	s.Debugger().SetBreakpoint(prog.Labels["call"].Offset)
	if _, err := s.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	if _, err := s.StepInto(); err != nil {
		t.Fatalf("StepInto: %v", err)
	}
	entry := bc.Constants[0].AsFunction().BytecodeOffset
	if ip := s.VM().CurrentIP(); ip != entry {
		t.Errorf("StepInto stopped at %d, want function entry %d", ip, entry)
	}
	if d := s.VM().FrameDepth(); d != 2 {
		t.Errorf("FrameDepth = %d, want 2", d)
	}
	snap := s.Snapshot()
	if len(snap.Frames) != 2 {
		t.Fatalf("snapshot has %d frames, want 2", len(snap.Frames))
	}
	if f := snap.Frames[1]; f.Function != "add" || !slices.Equal(f.Locals, []string{"2", "3"}) {
		t.Errorf("frame 1 = %+v, want add with locals [2 3]", f)
	}
	if snap.SessionID != s.ID.String() {
		t.Errorf("SessionID = %q, want %q", snap.SessionID, s.ID)
	}

	if _, err := s.StepOut(); err != nil {
		t.Fatalf("StepOut: %v", err)
	}
	if ip, want := s.VM().CurrentIP(), prog.Labels["after"].Offset; ip != want {
		t.Errorf("StepOut stopped at %d, want %d", ip, want)
	}
	if d := s.VM().FrameDepth(); d != 1 {
		t.Errorf("FrameDepth = %d after StepOut, want 1", d)
	}

	v, err := s.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if n := numberOf(t, v); n != 5 {
		t.Errorf("result = %v, want 5", n)
	}
}

func TestStepOverSkipsCallee(t *testing.T) {
	prog := assembleProgram(t, addProgram)
	s := NewDebugSession(prog.Bytecode)
	s.Debugger().SetBreakpoint(prog.Labels["call"].Offset)
	if _, err := s.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if _, err := s.StepOver(); err != nil {
		t.Fatalf("StepOver: %v", err)
	}
	if ip, want := s.VM().CurrentIP(), prog.Labels["after"].Offset; ip != want {
		t.Errorf("StepOver stopped at %d, want %d", ip, want)
	}
	if s.VM().StackSize() != 1 {
		t.Errorf("StackSize = %d, want the call result only", s.VM().StackSize())
	}
}

func TestContinueKeepsPendingPause(t *testing.T) {
	d := NewDebugger()
	d.Step(StepInto, 1)
	d.RequestPause()
	d.Continue()
	if act := d.BeforeInstruction(0, 0, 1); act != DebugPause {
		t.Errorf("first instruction after Continue gave %s, want pause", act)
	}
	if act := d.BeforeInstruction(1, 0, 1); act != DebugContinue {
		t.Errorf("step survived Continue: got %s", act)
	}
}

func TestRequestPause(t *testing.T) {
	s := NewDebugSession(assemble(t, sumLoop))
	s.Debugger().RequestPause()

	if _, err := s.VM().Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !s.VM().Paused() || s.VM().CurrentIP() != 0 {
		t.Errorf("paused/ip = %v/%d, want true/0", s.VM().Paused(), s.VM().CurrentIP())
	}
	ev := <-s.Debugger().Events()
	if ev.Type != "stopped" || ev.Reason != "pause" {
		t.Errorf("event = %+v, want a pause stop", ev)
	}

	v, err := s.Continue()
	if err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if n := numberOf(t, v); n != 15 {
		t.Errorf("sum = %v, want 15", n)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	prog := assembleProgram(t, addProgram)
	s := NewDebugSession(prog.Bytecode)
	s.VM().SetGlobal("limit", value.Number(10))
	s.Debugger().SetBreakpoint(prog.Labels["call"].Offset)
	if _, err := s.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}
	if _, err := s.StepInto(); err != nil {
		t.Fatalf("StepInto: %v", err)
	}

	snap := s.Snapshot()
	if snap.Instruction == "" {
		t.Error("snapshot has no instruction text")
	}
	if snap.Globals["limit"] != "10" {
		t.Errorf("globals = %v, want limit=10", snap.Globals)
	}

	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, snap)
	}

	if _, err := DecodeSnapshot([]byte{0xff}); err == nil {
		t.Error("DecodeSnapshot accepted garbage")
	}
}
