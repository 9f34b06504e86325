package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/atlas-lang/atlas/pkg/value"
)

// MaxConstants is the largest constant pool addressable by a u16 operand.
const MaxConstants = math.MaxUint16 + 1

// Bytecode is a compiled program unit: a flat instruction stream, the
// constant pool it indexes, and an optional offset-to-span table.
//
// DebugInfo entries are kept in ascending Offset order; an entry covers
// every instruction from its offset up to the next entry.
type Bytecode struct {
	Instructions []byte
	Constants    []value.Value
	DebugInfo    []DebugSpan

	// TopLevelLocalCount is the number of local slots the top-level code
	// needs. The VM reserves them in the main frame before execution.
	TopLevelLocalCount int
}

// New creates an empty bytecode unit.
func New() *Bytecode {
	return &Bytecode{
		Instructions: make([]byte, 0, 64),
		Constants:    make([]value.Value, 0, 16),
	}
}

// AddConstant appends v to the constant pool and returns its index.
// Constants are never deduplicated; function descriptors rely on each
// index being stable and unique.
func (b *Bytecode) AddConstant(v value.Value) (uint16, error) {
	if len(b.Constants) >= MaxConstants {
		return 0, fmt.Errorf("constant pool overflow: more than %d constants", MaxConstants)
	}
	b.Constants = append(b.Constants, v)
	return uint16(len(b.Constants) - 1), nil
}

// Constant returns constant idx.
func (b *Bytecode) Constant(idx int) (value.Value, bool) {
	if idx < 0 || idx >= len(b.Constants) {
		return value.Null(), false
	}
	return b.Constants[idx], true
}

// Emit appends a single opcode and records span for it when non-zero.
// Returns the offset of the opcode byte.
func (b *Bytecode) Emit(op Opcode, span Span) int {
	offset := len(b.Instructions)
	if !span.IsZero() {
		n := len(b.DebugInfo)
		if n == 0 || b.DebugInfo[n-1].Span != span {
			b.DebugInfo = append(b.DebugInfo, DebugSpan{Offset: uint32(offset), Span: span})
		}
	}
	b.Instructions = append(b.Instructions, byte(op))
	return offset
}

// EmitU8 appends a one-byte operand.
func (b *Bytecode) EmitU8(v uint8) {
	b.Instructions = append(b.Instructions, v)
}

// EmitU16 appends a big-endian u16 operand.
func (b *Bytecode) EmitU16(v uint16) {
	b.Instructions = binary.BigEndian.AppendUint16(b.Instructions, v)
}

// EmitI16 appends a big-endian i16 operand.
func (b *Bytecode) EmitI16(v int16) {
	b.Instructions = binary.BigEndian.AppendUint16(b.Instructions, uint16(v))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (b *Bytecode) EmitJump(op Opcode, span Span) int {
	b.Emit(op, span)
	offset := len(b.Instructions)
	b.Instructions = append(b.Instructions, 0xFF, 0xFF)
	return offset
}

// PatchJump patches a jump placeholder to land on the current offset.
func (b *Bytecode) PatchJump(placeholderOffset int) error {
	return b.PatchJumpTo(placeholderOffset, len(b.Instructions))
}

// PatchJumpTo patches a jump placeholder to land on target. The stored
// displacement is relative to the byte after the two-byte operand.
func (b *Bytecode) PatchJumpTo(placeholderOffset, target int) error {
	if placeholderOffset < 0 || placeholderOffset+2 > len(b.Instructions) {
		return fmt.Errorf("jump placeholder %d out of range", placeholderOffset)
	}
	delta := target - (placeholderOffset + 2)
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		return fmt.Errorf("jump distance %d exceeds i16 range", delta)
	}
	binary.BigEndian.PutUint16(b.Instructions[placeholderOffset:], uint16(int16(delta)))
	return nil
}

// EmitLoop emits a backward jump to loopStart.
func (b *Bytecode) EmitLoop(loopStart int, span Span) error {
	b.Emit(OpLoop, span)
	delta := loopStart - (len(b.Instructions) + 2)
	if delta < math.MinInt16 {
		return fmt.Errorf("loop body too large: displacement %d", delta)
	}
	b.EmitI16(int16(delta))
	return nil
}

// CurrentOffset returns the current offset in the instruction stream.
func (b *Bytecode) CurrentOffset() int {
	return len(b.Instructions)
}

// SpanForOffset returns the span covering the instruction at offset,
// or NoSpan when no entry precedes it. DebugInfo must be sorted by offset;
// Emit, Append and FromBytes all keep it that way.
func (b *Bytecode) SpanForOffset(offset int) Span {
	// Find the last entry <= offset.
	lo, hi := 0, len(b.DebugInfo)
	for lo < hi {
		mid := (lo + hi) / 2
		if int(b.DebugInfo[mid].Offset) <= offset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return NoSpan
	}
	return b.DebugInfo[lo-1].Span
}

// ReadU16 reads a big-endian u16 at offset.
func (b *Bytecode) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(b.Instructions[offset:])
}

// ReadI16 reads a big-endian i16 at offset.
func (b *Bytecode) ReadI16(offset int) int16 {
	return int16(binary.BigEndian.Uint16(b.Instructions[offset:]))
}

// Append merges other onto the end of b. Constant-referencing operands,
// function descriptor offsets and debug offsets of the appended unit are
// shifted so the merged unit is self-consistent. other is not modified.
func (b *Bytecode) Append(other *Bytecode) error {
	constBase := len(b.Constants)
	codeBase := len(b.Instructions)
	if constBase+len(other.Constants) > MaxConstants {
		return fmt.Errorf("constant pool overflow: merged unit needs %d constants",
			constBase+len(other.Constants))
	}

	code := make([]byte, len(other.Instructions))
	copy(code, other.Instructions)
	for pc := 0; pc < len(code); {
		op, err := DecodeOpcode(code[pc])
		if err != nil {
			return fmt.Errorf("offset %d: %w", pc, err)
		}
		n := op.InstructionLen()
		if pc+n > len(code) {
			return fmt.Errorf("offset %d: truncated %s operand", pc, op)
		}
		if op.ReferencesConstant() {
			idx := int(binary.BigEndian.Uint16(code[pc+1:])) + constBase
			binary.BigEndian.PutUint16(code[pc+1:], uint16(idx))
		}
		pc += n
	}

	for _, c := range other.Constants {
		if fn := c.AsFunction(); fn != nil {
			moved := fn.Clone()
			moved.BytecodeOffset += codeBase
			c = value.FromFunction(moved)
		}
		b.Constants = append(b.Constants, c)
	}
	b.Instructions = append(b.Instructions, code...)
	for _, d := range other.DebugInfo {
		b.DebugInfo = append(b.DebugInfo, DebugSpan{Offset: d.Offset + uint32(codeBase), Span: d.Span})
	}
	if other.TopLevelLocalCount > b.TopLevelLocalCount {
		b.TopLevelLocalCount = other.TopLevelLocalCount
	}
	return nil
}
