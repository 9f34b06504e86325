package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/atlas-lang/atlas/pkg/value"
)

// FormatVersion is the current .atb format version.
// Increment when making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for .atb files.
var Magic = []byte{'A', 'T', 'B', 0}

// Header flags.
const (
	FlagDebugInfo   uint16 = 1 << 0 // Debug span section present
	FlagLocalsCount uint16 = 1 << 1 // Top-level local count present
)

// Constant tags in the serialized constant pool.
const (
	tagNull     byte = 0x00
	tagBool     byte = 0x01
	tagNumber   byte = 0x02
	tagString   byte = 0x03
	tagFunction byte = 0x04
)

// ErrTruncated is returned when input ends inside a section.
var ErrTruncated = errors.New("unexpected end of bytecode")

// ToBytes encodes the unit in .atb format:
//
//	[magic:4] [version:u16] [flags:u16]
//	[const_count:u32] [constants:...]
//	[code_len:u32] [code:...]
//	[debug_count:u32] [offset:u32 start:u32 end:u32 line:u32 col:u32]... (FlagDebugInfo)
//	[top_level_locals:u32]                                              (FlagLocalsCount)
//
// All integers are big-endian.
func (b *Bytecode) ToBytes() ([]byte, error) {
	buf := make([]byte, 0, 16+len(b.Instructions)+len(b.Constants)*16+len(b.DebugInfo)*20)

	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, FormatVersion)

	var flags uint16
	if len(b.DebugInfo) > 0 {
		flags |= FlagDebugInfo
	}
	if b.TopLevelLocalCount > 0 {
		flags |= FlagLocalsCount
	}
	buf = binary.BigEndian.AppendUint16(buf, flags)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.Constants)))
	for i, c := range b.Constants {
		var err error
		if buf, err = appendConstant(buf, c); err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.Instructions)))
	buf = append(buf, b.Instructions...)

	if flags&FlagDebugInfo != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.DebugInfo)))
		for _, d := range b.DebugInfo {
			buf = binary.BigEndian.AppendUint32(buf, d.Offset)
			buf = binary.BigEndian.AppendUint32(buf, d.Span.Start)
			buf = binary.BigEndian.AppendUint32(buf, d.Span.End)
			buf = binary.BigEndian.AppendUint32(buf, d.Span.Line)
			buf = binary.BigEndian.AppendUint32(buf, d.Span.Column)
		}
	}
	if flags&FlagLocalsCount != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(b.TopLevelLocalCount))
	}

	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendConstant(buf []byte, c value.Value) ([]byte, error) {
	switch c.Kind() {
	case value.KindNull:
		return append(buf, tagNull), nil
	case value.KindBool:
		v, _ := c.AsBool()
		buf = append(buf, tagBool)
		if v {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	case value.KindNumber:
		n, _ := c.AsNumber()
		buf = append(buf, tagNumber)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(n)), nil
	case value.KindString:
		s, _ := c.AsString()
		buf = append(buf, tagString)
		return appendString(buf, s), nil
	case value.KindFunction:
		fn := c.AsFunction()
		buf = append(buf, tagFunction)
		buf = appendString(buf, fn.Name)
		buf = binary.BigEndian.AppendUint32(buf, uint32(fn.Arity))
		buf = binary.BigEndian.AppendUint32(buf, uint32(fn.BytecodeOffset))
		buf = binary.BigEndian.AppendUint32(buf, uint32(fn.LocalCount))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(fn.ParamNames)))
		for i, name := range fn.ParamNames {
			buf = appendString(buf, name)
			buf = append(buf, byte(fn.ParamOwnershipAt(i)))
		}
		buf = append(buf, byte(fn.ReturnOwnership))
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(fn.Captures)))
		for _, cp := range fn.Captures {
			buf = appendString(buf, cp.Name)
			buf = append(buf, byte(cp.Source))
			buf = binary.BigEndian.AppendUint16(buf, cp.Index)
		}
		return buf, nil
	}
	return buf, fmt.Errorf("%s values cannot be serialized", c.TypeName())
}

// decoder reads big-endian fields and reports truncation instead of
// panicking.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) need(n int, what string) error {
	if n < 0 || d.pos+n > len(d.data) {
		return fmt.Errorf("%w reading %s at offset %d", ErrTruncated, what, d.pos)
	}
	return nil
}

func (d *decoder) u8(what string) (uint8, error) {
	if err := d.need(1, what); err != nil {
		return 0, err
	}
	v := d.data[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) u16(what string) (uint16, error) {
	if err := d.need(2, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if err := d.need(4, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64(what string) (uint64, error) {
	if err := d.need(8, what); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) bytes(n uint32, what string) ([]byte, error) {
	if uint64(n) > uint64(len(d.data)-d.pos) {
		return nil, fmt.Errorf("%w reading %s at offset %d", ErrTruncated, what, d.pos)
	}
	v := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return v, nil
}

func (d *decoder) str(what string) (string, error) {
	n, err := d.u32(what + " length")
	if err != nil {
		return "", err
	}
	raw, err := d.bytes(n, what)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FromBytes decodes a .atb unit. Truncated input, a bad magic, a version
// mismatch, unknown constant tags and trailing bytes are all errors.
func FromBytes(data []byte) (*Bytecode, error) {
	d := &decoder{data: data}

	magic, err := d.bytes(4, "magic")
	if err != nil {
		return nil, err
	}
	if string(magic) != string(Magic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", Magic, magic)
	}

	version, err := d.u16("version")
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode version mismatch: file is version %d, this build reads version %d",
			version, FormatVersion)
	}

	flags, err := d.u16("flags")
	if err != nil {
		return nil, err
	}

	constCount, err := d.u32("constant count")
	if err != nil {
		return nil, err
	}
	if constCount > MaxConstants {
		return nil, fmt.Errorf("constant count %d exceeds limit %d", constCount, MaxConstants)
	}
	b := &Bytecode{Constants: make([]value.Value, 0, constCount)}
	for i := uint32(0); i < constCount; i++ {
		c, err := d.constant()
		if err != nil {
			return nil, fmt.Errorf("constant %d: %w", i, err)
		}
		b.Constants = append(b.Constants, c)
	}

	codeLen, err := d.u32("instruction length")
	if err != nil {
		return nil, err
	}
	code, err := d.bytes(codeLen, "instructions")
	if err != nil {
		return nil, err
	}
	b.Instructions = append(make([]byte, 0, len(code)), code...)

	if flags&FlagDebugInfo != 0 {
		n, err := d.u32("debug span count")
		if err != nil {
			return nil, err
		}
		// Each entry is 20 bytes; reject counts the remaining input cannot hold.
		if err := d.need(int(min(uint64(n)*20, math.MaxInt32)), "debug spans"); err != nil {
			return nil, err
		}
		b.DebugInfo = make([]DebugSpan, n)
		for i := range b.DebugInfo {
			var fields [5]uint32
			for j := range fields {
				if fields[j], err = d.u32("debug span"); err != nil {
					return nil, err
				}
			}
			if i > 0 && fields[0] < b.DebugInfo[i-1].Offset {
				return nil, fmt.Errorf("debug span %d: offset %d precedes offset %d", i, fields[0], b.DebugInfo[i-1].Offset)
			}
			b.DebugInfo[i] = DebugSpan{
				Offset: fields[0],
				Span:   Span{Start: fields[1], End: fields[2], Line: fields[3], Column: fields[4]},
			}
		}
	}
	if flags&FlagLocalsCount != 0 {
		n, err := d.u32("top-level local count")
		if err != nil {
			return nil, err
		}
		b.TopLevelLocalCount = int(n)
	}

	if d.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after bytecode", len(data)-d.pos)
	}
	return b, nil
}

func (d *decoder) constant() (value.Value, error) {
	tag, err := d.u8("constant tag")
	if err != nil {
		return value.Null(), err
	}
	switch tag {
	case tagNull:
		return value.Null(), nil
	case tagBool:
		v, err := d.u8("bool")
		if err != nil {
			return value.Null(), err
		}
		if v > 1 {
			return value.Null(), fmt.Errorf("invalid bool byte %d", v)
		}
		return value.Bool(v == 1), nil
	case tagNumber:
		bits, err := d.u64("number")
		if err != nil {
			return value.Null(), err
		}
		return value.Number(math.Float64frombits(bits)), nil
	case tagString:
		s, err := d.str("string")
		if err != nil {
			return value.Null(), err
		}
		return value.String(s), nil
	case tagFunction:
		fn, err := d.function()
		if err != nil {
			return value.Null(), err
		}
		return value.FromFunction(fn), nil
	}
	return value.Null(), fmt.Errorf("unknown constant tag 0x%02X", tag)
}

func (d *decoder) function() (*value.FunctionDescriptor, error) {
	fn := &value.FunctionDescriptor{}
	var err error
	if fn.Name, err = d.str("function name"); err != nil {
		return nil, err
	}
	var fields [3]uint32
	for i := range fields {
		if fields[i], err = d.u32("function header"); err != nil {
			return nil, err
		}
	}
	fn.Arity, fn.BytecodeOffset, fn.LocalCount = int(fields[0]), int(fields[1]), int(fields[2])

	params, err := d.u32("parameter count")
	if err != nil {
		return nil, err
	}
	// Each parameter needs at least five bytes.
	if err := d.need(int(min(uint64(params)*5, math.MaxInt32)), "parameters"); err != nil {
		return nil, err
	}
	for i := uint32(0); i < params; i++ {
		name, err := d.str("parameter name")
		if err != nil {
			return nil, err
		}
		o, err := d.u8("parameter ownership")
		if err != nil {
			return nil, err
		}
		if o > byte(value.OwnershipShared) {
			return nil, fmt.Errorf("invalid ownership tag %d", o)
		}
		fn.ParamNames = append(fn.ParamNames, name)
		fn.ParamOwnership = append(fn.ParamOwnership, value.Ownership(o))
	}

	ret, err := d.u8("return ownership")
	if err != nil {
		return nil, err
	}
	if ret > byte(value.OwnershipShared) {
		return nil, fmt.Errorf("invalid ownership tag %d", ret)
	}
	fn.ReturnOwnership = value.Ownership(ret)

	captures, err := d.u32("capture count")
	if err != nil {
		return nil, err
	}
	if err := d.need(int(min(uint64(captures)*7, math.MaxInt32)), "captures"); err != nil {
		return nil, err
	}
	for i := uint32(0); i < captures; i++ {
		name, err := d.str("capture name")
		if err != nil {
			return nil, err
		}
		src, err := d.u8("capture source")
		if err != nil {
			return nil, err
		}
		if src > byte(value.CaptureUpvalue) {
			return nil, fmt.Errorf("invalid capture source %d", src)
		}
		idx, err := d.u16("capture index")
		if err != nil {
			return nil, err
		}
		fn.Captures = append(fn.Captures, value.Capture{Name: name, Source: value.CaptureSource(src), Index: idx})
	}
	return fn, nil
}
