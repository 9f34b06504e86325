package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, err := DecodeOpcode(byte(op))
		if err != nil {
			t.Errorf("DecodeOpcode(0x%02X): %v", byte(op), err)
			continue
		}
		if got != op {
			t.Errorf("DecodeOpcode(0x%02X) = %s, want %s", byte(op), got, op)
		}
		byName, ok := LookupOpcode(op.String())
		if !ok || byName != op {
			t.Errorf("LookupOpcode(%q) = %v, %v", op.String(), byName, ok)
		}
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	defined := make(map[byte]bool)
	for _, op := range AllOpcodes() {
		defined[byte(op)] = true
	}
	for b := 0; b < 256; b++ {
		_, err := DecodeOpcode(byte(b))
		if defined[byte(b)] && err != nil {
			t.Errorf("0x%02X should decode: %v", b, err)
		}
		if !defined[byte(b)] && err == nil {
			t.Errorf("0x%02X should be rejected", b)
		}
	}
}

func TestStableOpcodeValues(t *testing.T) {
	// These bytes are part of the .atb format.
	tests := []struct {
		op   Opcode
		want byte
	}{
		{OpConstant, 0x10},
		{OpGetLocal, 0x20},
		{OpMakeClosure, 0x30},
		{OpAdd, 0x50},
		{OpJump, 0x80},
		{OpCall, 0x90},
		{OpArray, 0xB0},
		{OpHalt, 0xFF},
	}
	for _, tt := range tests {
		if byte(tt.op) != tt.want {
			t.Errorf("%s = 0x%02X, want 0x%02X", tt.op, byte(tt.op), tt.want)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpPop, "POP"},
		{OpConstant, "CONSTANT"},
		{OpGetUpvalue, "GET_UPVALUE"},
		{OpJumpIfFalse, "JUMP_IF_FALSE"},
		{OpExtractResultValue, "EXTRACT_RESULT_VALUE"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
	if got := Opcode(0xEE).String(); !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpAdd, 0},
		{OpReturn, 0},
		{OpCall, 1},
		{OpConstant, 2},
		{OpGetLocal, 2},
		{OpJump, 2},
		{OpLoop, 2},
		{OpMakeClosure, 3},
	}
	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestIsJump(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpJumpIfFalse, OpLoop} {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false", op)
		}
	}
	for _, op := range []Opcode{OpCall, OpReturn, OpConstant} {
		if op.IsJump() {
			t.Errorf("%s.IsJump() = true", op)
		}
	}
}
