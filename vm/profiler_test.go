package vm

import (
	"reflect"
	"testing"
)

func opcodeCount(r *ProfileReport, name string) uint64 {
	for _, oc := range r.Opcodes {
		if oc.Opcode == name {
			return oc.Count
		}
	}
	return 0
}

func TestProfilerCountsInstructions(t *testing.T) {
	p := NewProfiler()
	bc := assemble(t, sumLoop)
	if n := numberOf(t, mustRun(t, New(bc, WithProfiler(p)))); n != 15 {
		t.Fatalf("sum = %v, want 15", n)
	}

	r := p.Report(bc, 0)
	if r.RunID != p.RunID().String() {
		t.Errorf("RunID = %q, want %q", r.RunID, p.RunID())
	}
	for _, tt := range []struct {
		op   string
		want uint64
	}{
		{"LOOP", 5},
		{"LESS_EQUAL", 6},
		{"JUMP_IF_FALSE", 6},
		{"HALT", 1},
	} {
		if got := opcodeCount(r, tt.op); got != tt.want {
			t.Errorf("%s count = %d, want %d", tt.op, got, tt.want)
		}
	}
	if r.Instructions != p.Instructions() || r.Instructions == 0 {
		t.Errorf("Instructions = %d, profiler says %d", r.Instructions, p.Instructions())
	}
	if r.MaxFrames != 1 {
		t.Errorf("MaxFrames = %d, want 1", r.MaxFrames)
	}
	for i := 1; i < len(r.Opcodes); i++ {
		if r.Opcodes[i].Count > r.Opcodes[i-1].Count {
			t.Fatalf("opcodes not sorted by count: %+v", r.Opcodes)
		}
	}
	if r.Started.IsZero() {
		t.Error("Started not set")
	}
}

func TestProfilerHotOffsetsLimit(t *testing.T) {
	p := NewProfiler()
	bc := assemble(t, sumLoop)
	mustRun(t, New(bc, WithProfiler(p)))

	r := p.Report(bc, 3)
	if len(r.HotOffsets) != 3 {
		t.Fatalf("HotOffsets = %d entries, want 3", len(r.HotOffsets))
	}
	// The loop condition runs once more than the body.
	if r.HotOffsets[0].Count != 6 {
		t.Errorf("hottest offset ran %d times, want 6", r.HotOffsets[0].Count)
	}
}

func TestProfilerCallCounts(t *testing.T) {
	p := NewProfiler()
	p.HotThreshold = 2
	bc := assemble(t, `
.func add arity=2
  GET_LOCAL 0
  GET_LOCAL 1
  ADD
  RETURN
.end
  CONSTANT add
  CONSTANT add
  CONSTANT 1
  CONSTANT 2
  CALL 2
  CONSTANT 3
  CALL 2
  GET_GLOBAL len
  CONSTANT "ab"
  CALL 1
  ADD
  HALT
`)
	if n := numberOf(t, mustRun(t, New(bc, WithProfiler(p)))); n != 8 {
		t.Fatalf("result = %v, want 8", n)
	}
	r := p.Report(bc, 0)
	want := []CallCount{
		{Function: "add", Count: 2, Hot: true},
		{Function: "len", Count: 1},
	}
	if !reflect.DeepEqual(r.Calls, want) {
		t.Errorf("Calls = %+v, want %+v", r.Calls, want)
	}
	if r.MaxFrames != 2 {
		t.Errorf("MaxFrames = %d, want 2", r.MaxFrames)
	}
}

func TestReportRoundTrip(t *testing.T) {
	p := NewProfiler()
	bc := assemble(t, sumLoop)
	mustRun(t, New(bc, WithProfiler(p)))
	r := p.Report(bc, 5)
	r.Program = "sum.atasm"

	data, err := EncodeReport(r)
	if err != nil {
		t.Fatalf("EncodeReport: %v", err)
	}
	got, err := DecodeReport(data)
	if err != nil {
		t.Fatalf("DecodeReport: %v", err)
	}
	if !got.Started.Equal(r.Started) {
		t.Errorf("Started = %v, want %v", got.Started, r.Started)
	}
	got.Started = r.Started
	if !reflect.DeepEqual(got, r) {
		t.Errorf("round trip:\n got %+v\nwant %+v", got, r)
	}
}
