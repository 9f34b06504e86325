package bytecode

import (
	"fmt"
	"strings"

	"github.com/atlas-lang/atlas/pkg/value"
)

// Disassemble returns a human-readable listing of the unit.
func (b *Bytecode) Disassemble() string {
	return b.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (b *Bytecode) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Atlas Bytecode v%d\n", FormatVersion))
	if b.TopLevelLocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", b.TopLevelLocalCount))
	}
	sb.WriteString("\n")

	if len(b.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range b.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, describeConstant(c)))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(b.Instructions) {
		line, n := b.DisassembleInstruction(offset)
		if span := b.SpanForOffset(offset); !span.IsZero() {
			sb.WriteString(fmt.Sprintf("%04X  %-36s ; line %d:%d\n", offset, line, span.Line, span.Column))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}
		if n == 0 {
			break
		}
		offset += n
	}

	return sb.String()
}

func describeConstant(c value.Value) string {
	if fn := c.AsFunction(); fn != nil {
		s := fmt.Sprintf("<fn %s/%d @%04X locals=%d", fn.Name, fn.Arity, fn.BytecodeOffset, fn.LocalCount)
		if len(fn.Captures) > 0 {
			s += fmt.Sprintf(" captures=%d", len(fn.Captures))
		}
		return s + ">"
	}
	display := c.Inspect()
	if len(display) > 40 {
		display = display[:37] + "..."
	}
	display = strings.ReplaceAll(display, "\n", "\\n")
	return strings.ReplaceAll(display, "\t", "\\t")
}

// DisassembleInstruction formats the instruction at offset and returns its
// length. Unknown or truncated instructions render as a marker with length
// 1 (or 0 at the end of the stream) so a listing never panics.
func (b *Bytecode) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(b.Instructions) {
		return "<end of code>", 0
	}

	op := Opcode(b.Instructions[offset])
	info := GetOpcodeInfo(op)
	if !op.IsValid() {
		return info.Name, 1
	}
	n := op.InstructionLen()
	if offset+n > len(b.Instructions) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(b.Instructions) - offset
	}

	switch info.Operand {
	case OperandNone:
		return info.Name, n

	case OperandU8:
		return fmt.Sprintf("%s %d", info.Name, b.Instructions[offset+1]), n

	case OperandI16:
		delta := int(b.ReadI16(offset + 1))
		target := offset + n + delta
		return fmt.Sprintf("%s %+d ; -> %04X", info.Name, delta, target), n

	case OperandU16U8:
		idx := b.ReadU16(offset + 1)
		count := b.Instructions[offset+3]
		return fmt.Sprintf("%s %d %d ; %s", info.Name, idx, count, b.constantComment(int(idx))), n

	case OperandU16:
		idx := b.ReadU16(offset + 1)
		if op.ReferencesConstant() {
			return fmt.Sprintf("%s %d ; %s", info.Name, idx, b.constantComment(int(idx))), n
		}
		return fmt.Sprintf("%s %d", info.Name, idx), n
	}
	return info.Name, n
}

func (b *Bytecode) constantComment(idx int) string {
	c, ok := b.Constant(idx)
	if !ok {
		return "<bad constant>"
	}
	return describeConstant(c)
}
