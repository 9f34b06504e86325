package bytecode

import (
	"fmt"
	"sort"
)

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
// The byte values are part of the .atb format and must never be renumbered.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpPop Opcode = 0x01 // Pop top of stack
	OpDup Opcode = 0x02 // Duplicate top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConstant Opcode = 0x10 // Push constant from pool: OpConstant <index:u16>
	OpNull     Opcode = 0x11 // Push null
	OpTrue     Opcode = 0x12 // Push true
	OpFalse    Opcode = 0x13 // Push false

	// ========================================================================
	// Variables (0x20-0x2F)
	// ========================================================================

	OpGetLocal  Opcode = 0x20 // Push local: OpGetLocal <slot:u16>
	OpSetLocal  Opcode = 0x21 // Store top into local (no pop): OpSetLocal <slot:u16>
	OpGetGlobal Opcode = 0x22 // Push global named by string constant: <name:u16>
	OpSetGlobal Opcode = 0x23 // Store top into global (no pop): <name:u16>

	// ========================================================================
	// Closures (0x30-0x3F)
	// ========================================================================

	OpMakeClosure Opcode = 0x30 // Build closure: OpMakeClosure <fn:u16> <upvalues:u8>
	OpGetUpvalue  Opcode = 0x31 // Push upvalue of current frame: <index:u16>
	OpSetUpvalue  Opcode = 0x32 // Store top into upvalue (no pop): <index:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd    Opcode = 0x50 // Pop two, push sum or string concatenation
	OpSub    Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul    Opcode = 0x52 // Pop two, push product
	OpDiv    Opcode = 0x53 // Pop two, push quotient
	OpMod    Opcode = 0x54 // Pop two, push remainder
	OpNegate Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEqual        Opcode = 0x60
	OpNotEqual     Opcode = 0x61
	OpLess         Opcode = 0x62
	OpLessEqual    Opcode = 0x63
	OpGreater      Opcode = 0x64
	OpGreaterEqual Opcode = 0x65

	// ========================================================================
	// Logical operations (0x68-0x6F)
	// ========================================================================

	OpNot Opcode = 0x68
	OpAnd Opcode = 0x69
	OpOr  Opcode = 0x6A

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump        Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpIfFalse Opcode = 0x81 // Pop, jump if falsy: OpJumpIfFalse <offset:i16>
	OpLoop        Opcode = 0x82 // Backward jump: OpLoop <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall   Opcode = 0x90 // Call callee below args: OpCall <argc:u8>
	OpReturn Opcode = 0x91 // Return top of stack from current frame

	// ========================================================================
	// Arrays (0xB0-0xBF)
	// ========================================================================

	OpArray    Opcode = 0xB0 // Pop n values into an array: OpArray <n:u16>
	OpGetIndex Opcode = 0xB1 // array index -> element
	OpSetIndex Opcode = 0xB2 // array index value -> array'

	// ========================================================================
	// Pattern matching (0xC0-0xCF)
	// ========================================================================

	OpIsOptionSome       Opcode = 0xC0
	OpIsOptionNone       Opcode = 0xC1
	OpIsResultOk         Opcode = 0xC2
	OpIsResultErr        Opcode = 0xC3
	OpExtractOptionValue Opcode = 0xC4
	OpExtractResultValue Opcode = 0xC5
	OpIsArray            Opcode = 0xC6
	OpGetArrayLen        Opcode = 0xC7

	// ========================================================================
	// Termination
	// ========================================================================

	OpHalt Opcode = 0xFF
)

// OperandKind describes the fixed operand encoding of an opcode.
type OperandKind uint8

const (
	OperandNone  OperandKind = iota
	OperandU8                // 1 byte unsigned
	OperandU16               // 2 bytes big-endian unsigned
	OperandI16               // 2 bytes big-endian signed
	OperandU16U8             // u16 followed by u8
)

// Len returns the number of operand bytes.
func (k OperandKind) Len() int {
	switch k {
	case OperandU8:
		return 1
	case OperandU16, OperandI16:
		return 2
	case OperandU16U8:
		return 3
	}
	return 0
}

func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandU8:
		return "u8"
	case OperandU16:
		return "u16"
	case OperandI16:
		return "i16"
	case OperandU16U8:
		return "u16,u8"
	}
	return fmt.Sprintf("OperandKind(%d)", k)
}

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string      // Mnemonic
	Operand   OperandKind // Operand encoding
	StackPop  int         // How many values popped from stack (-1 = variable)
	StackPush int         // How many values pushed to stack
}

// opcodeInfoTable maps opcodes to their metadata. It is the single source
// of truth for which bytes are valid opcodes.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpPop: {"POP", OperandNone, 1, 0},
	OpDup: {"DUP", OperandNone, 1, 2},

	OpConstant: {"CONSTANT", OperandU16, 0, 1},
	OpNull:     {"NULL", OperandNone, 0, 1},
	OpTrue:     {"TRUE", OperandNone, 0, 1},
	OpFalse:    {"FALSE", OperandNone, 0, 1},

	OpGetLocal:  {"GET_LOCAL", OperandU16, 0, 1},
	OpSetLocal:  {"SET_LOCAL", OperandU16, 1, 1},
	OpGetGlobal: {"GET_GLOBAL", OperandU16, 0, 1},
	OpSetGlobal: {"SET_GLOBAL", OperandU16, 1, 1},

	OpMakeClosure: {"MAKE_CLOSURE", OperandU16U8, -1, 1}, // Pops upvalue count values
	OpGetUpvalue:  {"GET_UPVALUE", OperandU16, 0, 1},
	OpSetUpvalue:  {"SET_UPVALUE", OperandU16, 1, 1},

	OpAdd:    {"ADD", OperandNone, 2, 1},
	OpSub:    {"SUB", OperandNone, 2, 1},
	OpMul:    {"MUL", OperandNone, 2, 1},
	OpDiv:    {"DIV", OperandNone, 2, 1},
	OpMod:    {"MOD", OperandNone, 2, 1},
	OpNegate: {"NEGATE", OperandNone, 1, 1},

	OpEqual:        {"EQUAL", OperandNone, 2, 1},
	OpNotEqual:     {"NOT_EQUAL", OperandNone, 2, 1},
	OpLess:         {"LESS", OperandNone, 2, 1},
	OpLessEqual:    {"LESS_EQUAL", OperandNone, 2, 1},
	OpGreater:      {"GREATER", OperandNone, 2, 1},
	OpGreaterEqual: {"GREATER_EQUAL", OperandNone, 2, 1},

	OpNot: {"NOT", OperandNone, 1, 1},
	OpAnd: {"AND", OperandNone, 2, 1},
	OpOr:  {"OR", OperandNone, 2, 1},

	OpJump:        {"JUMP", OperandI16, 0, 0},
	OpJumpIfFalse: {"JUMP_IF_FALSE", OperandI16, 1, 0},
	OpLoop:        {"LOOP", OperandI16, 0, 0},

	OpCall:   {"CALL", OperandU8, -1, 1}, // Pops callee + argc args
	OpReturn: {"RETURN", OperandNone, 1, 0},

	OpArray:    {"ARRAY", OperandU16, -1, 1},
	OpGetIndex: {"GET_INDEX", OperandNone, 2, 1},
	OpSetIndex: {"SET_INDEX", OperandNone, 3, 1},

	OpIsOptionSome:       {"IS_OPTION_SOME", OperandNone, 1, 1},
	OpIsOptionNone:       {"IS_OPTION_NONE", OperandNone, 1, 1},
	OpIsResultOk:         {"IS_RESULT_OK", OperandNone, 1, 1},
	OpIsResultErr:        {"IS_RESULT_ERR", OperandNone, 1, 1},
	OpExtractOptionValue: {"EXTRACT_OPTION_VALUE", OperandNone, 1, 1},
	OpExtractResultValue: {"EXTRACT_RESULT_VALUE", OperandNone, 1, 1},
	OpIsArray:            {"IS_ARRAY", OperandNone, 1, 1},
	OpGetArrayLen:        {"GET_ARRAY_LEN", OperandNone, 1, 1},

	OpHalt: {"HALT", OperandNone, 0, 0},
}

// opcodeByName is the reverse mnemonic index used by the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// DecodeOpcode converts a raw byte into an Opcode. Bytes outside the
// defined set are an error, never silently accepted.
func DecodeOpcode(b byte) (Opcode, error) {
	op := Opcode(b)
	if _, ok := opcodeInfoTable[op]; !ok {
		return 0, fmt.Errorf("unknown opcode 0x%02X", b)
	}
	return op, nil
}

// LookupOpcode finds an opcode by mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).Operand.Len()
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode applies a relative displacement.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// ReferencesConstant reports whether the first u16 operand is a constant
// pool index. Merging bytecode units rewrites these operands.
func (op Opcode) ReferencesConstant() bool {
	switch op {
	case OpConstant, OpGetGlobal, OpSetGlobal, OpMakeClosure:
		return true
	}
	return false
}

// AllOpcodes returns every defined opcode in ascending byte order.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	sort.Slice(opcodes, func(i, j int) bool { return opcodes[i] < opcodes[j] })
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
