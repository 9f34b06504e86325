package profstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/vm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "profiles.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleReport(id string, started time.Time) *vm.ProfileReport {
	return &vm.ProfileReport{
		RunID:        id,
		Program:      "main.atasm",
		Started:      started,
		Duration:     1500 * time.Microsecond,
		Instructions: 42,
		MaxStack:     7,
		MaxFrames:    3,
		Opcodes: []vm.OpcodeCount{
			{Opcode: "GET_LOCAL", Count: 20},
			{Opcode: "ADD", Count: 12},
			{Opcode: "HALT", Count: 1},
		},
		HotOffsets: []vm.OffsetCount{
			{Offset: 8, Span: bytecode.Span{Line: 4, Column: 3}, Count: 6},
			{Offset: 2, Count: 1},
		},
		Calls: []vm.CallCount{
			{Function: "fib", Count: 177, Hot: true},
			{Function: "len", Count: 2},
		},
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	want := sampleReport("run-1", time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC))
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Started.Equal(want.Started) {
		t.Errorf("Started = %v, want %v", got.Started, want.Started)
	}
	got.Started = want.Started
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load:\n got %+v\nwant %+v", got, want)
	}
}

func TestLoadMissing(t *testing.T) {
	s := openStore(t)
	if _, err := s.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveReplacesRun(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	r := sampleReport("run-1", time.Now())
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("Save: %v", err)
	}
	r.Calls = r.Calls[:1]
	r.Instructions = 99
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Instructions != 99 || len(got.Calls) != 1 {
		t.Errorf("instructions/calls = %d/%d, want 99/1", got.Instructions, len(got.Calls))
	}
}

func TestRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		// Sub-second offsets check that start times sort numerically.
		started := base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := s.Save(ctx, sampleReport(id, started)); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	runs, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "c" || runs[1].RunID != "b" {
		t.Fatalf("Recent = %+v, want c then b", runs)
	}
	if runs[0].Instructions != 42 || runs[0].Duration != 1500*time.Microsecond {
		t.Errorf("summary = %+v", runs[0])
	}
}

func TestDeleteAndTotals(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, sampleReport(id, time.Now())); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	totals, err := s.FunctionTotals(ctx, 10)
	if err != nil {
		t.Fatalf("FunctionTotals: %v", err)
	}
	want := []vm.CallCount{{Function: "fib", Count: 354}, {Function: "len", Count: 4}}
	if !reflect.DeepEqual(totals, want) {
		t.Errorf("totals = %+v, want %+v", totals, want)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v, want ErrNotFound", err)
	}
	totals, err = s.FunctionTotals(ctx, 1)
	if err != nil {
		t.Fatalf("FunctionTotals: %v", err)
	}
	if len(totals) != 1 || totals[0].Count != 177 {
		t.Errorf("totals after delete = %+v, want fib=177 only", totals)
	}
}

func TestStoreProfiledRun(t *testing.T) {
	bc := bytecode.New()
	bc.Emit(bytecode.OpHalt, bytecode.NoSpan)
	p := vm.NewProfiler()
	if _, err := vm.New(bc, vm.WithProfiler(p)).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := openStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, p.Report(bc, 10)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, p.RunID().String())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Instructions != 1 || len(got.Opcodes) != 1 || got.Opcodes[0].Opcode != "HALT" {
		t.Errorf("report = %+v", got)
	}
}
