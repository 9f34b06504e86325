package vm

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-lang/atlas/pkg/bytecode"
)

// Profiler collects per-instruction statistics while installed on a VM.
// Recording happens on the interpreter goroutine; read a report once Run
// has returned.
type Profiler struct {
	// HotThreshold is the call count at which a function is reported hot.
	HotThreshold uint64

	runID        uuid.UUID
	opcodeCounts [256]uint64
	offsetCounts map[int]uint64
	calls        map[string]uint64
	instructions uint64
	maxStack     int
	maxFrames    int

	started time.Time
	resumed time.Time
	elapsed time.Duration
}

// NewProfiler creates an empty profiler with a fresh run ID.
func NewProfiler() *Profiler {
	return &Profiler{
		HotThreshold: 100,
		runID:        uuid.New(),
		offsetCounts: make(map[int]uint64),
		calls:        make(map[string]uint64),
	}
}

// RunID identifies this profile in reports and the profile store.
func (p *Profiler) RunID() uuid.UUID { return p.runID }

func (p *Profiler) begin() {
	now := time.Now()
	if p.started.IsZero() {
		p.started = now
	}
	p.resumed = now
}

func (p *Profiler) end() {
	p.elapsed += time.Since(p.resumed)
}

func (p *Profiler) record(ip int, op bytecode.Opcode, stack, frames int) {
	p.instructions++
	p.opcodeCounts[op]++
	p.offsetCounts[ip]++
	if stack > p.maxStack {
		p.maxStack = stack
	}
	if frames > p.maxFrames {
		p.maxFrames = frames
	}
}

func (p *Profiler) recordCall(name string) {
	p.calls[name]++
}

// Instructions is the number of instructions executed so far.
func (p *Profiler) Instructions() uint64 { return p.instructions }

// ---------------------------------------------------------------------------
// Reports
// ---------------------------------------------------------------------------

// ProfileReport is a serializable summary of one profiled run.
type ProfileReport struct {
	RunID        string        `cbor:"runId"`
	Program      string        `cbor:"program,omitempty"`
	Started      time.Time     `cbor:"started"`
	Duration     time.Duration `cbor:"duration"`
	Instructions uint64        `cbor:"instructions"`
	MaxStack     int           `cbor:"maxStack"`
	MaxFrames    int           `cbor:"maxFrames"`
	Opcodes      []OpcodeCount `cbor:"opcodes"`
	HotOffsets   []OffsetCount `cbor:"hotOffsets"`
	Calls        []CallCount   `cbor:"calls"`
}

// OpcodeCount is one opcode histogram bucket.
type OpcodeCount struct {
	Opcode string `cbor:"opcode"`
	Count  uint64 `cbor:"count"`
}

// OffsetCount is how often the instruction at Offset ran.
type OffsetCount struct {
	Offset int           `cbor:"offset"`
	Span   bytecode.Span `cbor:"span"`
	Count  uint64        `cbor:"count"`
}

// CallCount is how often a callee was invoked.
type CallCount struct {
	Function string `cbor:"function"`
	Count    uint64 `cbor:"count"`
	Hot      bool   `cbor:"hot"`
}

// Report summarizes the profile. Opcodes and calls are complete and sorted
// by descending count; hot offsets are limited to topN (all when topN <= 0).
// bc, when non-nil, supplies spans for the hot offsets.
func (p *Profiler) Report(bc *bytecode.Bytecode, topN int) *ProfileReport {
	r := &ProfileReport{
		RunID:        p.runID.String(),
		Started:      p.started,
		Duration:     p.elapsed,
		Instructions: p.instructions,
		MaxStack:     p.maxStack,
		MaxFrames:    p.maxFrames,
	}

	for op, n := range p.opcodeCounts {
		if n > 0 {
			r.Opcodes = append(r.Opcodes, OpcodeCount{Opcode: bytecode.Opcode(op).String(), Count: n})
		}
	}
	slices.SortFunc(r.Opcodes, func(a, b OpcodeCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Opcode, b.Opcode))
	})

	for off, n := range p.offsetCounts {
		oc := OffsetCount{Offset: off, Count: n}
		if bc != nil {
			oc.Span = bc.SpanForOffset(off)
		}
		r.HotOffsets = append(r.HotOffsets, oc)
	}
	slices.SortFunc(r.HotOffsets, func(a, b OffsetCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Offset, b.Offset))
	})
	if topN > 0 && len(r.HotOffsets) > topN {
		r.HotOffsets = r.HotOffsets[:topN]
	}

	for name, n := range p.calls {
		r.Calls = append(r.Calls, CallCount{Function: name, Count: n, Hot: n >= p.HotThreshold})
	}
	slices.SortFunc(r.Calls, func(a, b CallCount) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Function, b.Function))
	})
	return r
}
