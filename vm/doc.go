// Package vm implements the Atlas virtual machine.
//
// This package contains:
//   - The stack-based bytecode interpreter and its call frames
//   - Closure construction over shared upvalue cells
//   - Callback intrinsics (map, filter, sort, ...) that re-enter the interpreter
//   - The debugger hook, breakpoints, stepping and state snapshots
//   - The instruction profiler and its reports
//   - Extern (FFI) declarations and the host library loader
//
// Ownership annotations are only enforced in builds tagged atlas_ownership.
package vm
