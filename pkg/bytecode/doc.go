// Package bytecode defines the Atlas instruction set and the compiled
// program unit the VM executes.
//
// The format is designed for:
//   - Compact representation (1-4 bytes per instruction)
//   - Fast decoding (one opcode byte, fixed operand widths per opcode)
//   - Easy serialization (the .atb file format)
//
// # Architecture Overview
//
//   - Opcodes: a closed set of byte-tagged stack instructions. Every opcode
//     has exactly one operand encoding (none, u8, u16, i16 or u16+u8), and
//     unknown bytes are rejected by DecodeOpcode rather than guessed.
//
//   - Bytecode: instructions, a constant pool and a sorted offset-to-span
//     table. Compilers emit through Emit/EmitU16/EmitJump and patch forward
//     jumps with PatchJump. Function descriptors are added to the pool with
//     a placeholder offset and patched once their body is placed.
//
//   - Serialization: ToBytes/FromBytes implement the .atb format. Decoding
//     never panics; malformed input yields an error.
//
// # Jumps
//
// Jump, JumpIfFalse and Loop carry a signed 16-bit displacement measured
// from the byte after the operand:
//
//	target = operandOffset + 2 + displacement
//
// # Merging
//
// Append concatenates two units for accumulating multi-file execution,
// shifting the constant indices, function offsets and debug offsets of the
// appended unit.
package bytecode
