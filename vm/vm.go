package vm

import (
	"fmt"
	"maps"

	"github.com/tliron/commonlog"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

var log = commonlog.GetLogger("atlas.vm")

// DefaultMaxFrames bounds call depth unless WithMaxFrames says otherwise.
const DefaultMaxFrames = 1 << 14

// ---------------------------------------------------------------------------
// VM: the Atlas bytecode interpreter
// ---------------------------------------------------------------------------

// VM executes one Bytecode unit. A VM is single-threaded: Run and every
// inspection method must be called from one goroutine at a time.
type VM struct {
	bc      *bytecode.Bytecode
	stack   []value.Value
	frames  []CallFrame
	globals map[string]value.Value

	ip   int // next instruction
	opIP int // instruction currently executing, for spans and rewinds

	done   bool
	result value.Value
	err    error

	ctx     *stdlib.Context
	externs map[string]*extern

	// Hooks. instrumented is the single per-instruction check.
	instrumented bool
	debugger     DebugHook
	profiler     *Profiler
	pausePending bool
	skipHook     bool

	nested    int // intrinsic callback re-entry depth
	maxFrames int

	own ownership
}

// Option configures a VM at construction.
type Option func(*VM)

// WithContext sets the security context handed to builtins and externs.
func WithContext(ctx *stdlib.Context) Option {
	return func(vm *VM) { vm.ctx = ctx }
}

// WithDebugger installs a debugger hook.
func WithDebugger(h DebugHook) Option {
	return func(vm *VM) { vm.debugger = h }
}

// WithProfiler installs a profiler.
func WithProfiler(p *Profiler) Option {
	return func(vm *VM) { vm.profiler = p }
}

// WithMaxFrames bounds the call depth.
func WithMaxFrames(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.maxFrames = n
		}
	}
}

// WithStackSize preallocates the operand stack.
func WithStackSize(n int) Option {
	return func(vm *VM) {
		if n > cap(vm.stack) {
			vm.stack = make([]value.Value, 0, n)
		}
	}
}

// New creates a VM ready to run bc from offset 0. The main frame's
// top-level local slots are reserved and initialized to null.
func New(bc *bytecode.Bytecode, opts ...Option) *VM {
	if bc == nil {
		bc = bytecode.New()
	}
	vm := &VM{
		bc:        bc,
		stack:     make([]value.Value, 0, 256),
		globals:   make(map[string]value.Value),
		externs:   make(map[string]*extern),
		maxFrames: DefaultMaxFrames,
	}
	for _, opt := range opts {
		opt(vm)
	}
	if vm.ctx == nil {
		vm.ctx = stdlib.NewContext(nil, nil)
	}
	vm.instrumented = vm.debugger != nil || vm.profiler != nil

	vm.frames = append(vm.frames, CallFrame{Function: mainFrameName, LocalCount: bc.TopLevelLocalCount})
	for range bc.TopLevelLocalCount {
		vm.push(value.Null())
	}
	return vm
}

// Run executes until the program halts, returns from the main frame,
// pauses under the debugger or faults. A paused VM resumes where it
// stopped; the instruction it paused on is not reported to the debugger a
// second time. Once finished, Run keeps returning the same outcome.
func (vm *VM) Run() (value.Value, error) {
	if vm.err != nil {
		return value.Null(), vm.err
	}
	if vm.done {
		return vm.result, nil
	}
	if vm.pausePending {
		vm.pausePending = false
		vm.skipHook = true
		log.Debugf("resuming at %04X", vm.ip)
	} else {
		log.Debugf("run: %d bytes, %d constants", len(vm.bc.Instructions), len(vm.bc.Constants))
	}
	if vm.profiler != nil {
		vm.profiler.begin()
	}

	err := vm.execute(0)

	if vm.profiler != nil {
		vm.profiler.end()
	}
	switch {
	case err != nil:
		vm.err = err
		log.Debugf("run failed: %s", err)
		return value.Null(), err
	case vm.pausePending:
		log.Debugf("paused at %04X (%s)", vm.ip, vm.bc.SpanForOffset(vm.ip))
		return value.Null(), nil
	}
	log.Debugf("run finished: %s", vm.result.Inspect())
	return vm.result, nil
}

// Paused reports whether the last Run stopped at a debugger pause.
func (vm *VM) Paused() bool { return vm.pausePending }

// Done reports whether the program has terminated.
func (vm *VM) Done() bool { return vm.done }

// Load appends another unit to the running program and positions the VM at
// its first instruction. Globals survive; the operand stack is reset to the
// main frame's locals, which grow to cover the new unit's top-level slots.
func (vm *VM) Load(other *bytecode.Bytecode) error {
	if len(vm.frames) != 1 && !vm.done && vm.err == nil {
		return fmt.Errorf("cannot load while %d frames are active", len(vm.frames))
	}
	start := len(vm.bc.Instructions)
	if err := vm.bc.Append(other); err != nil {
		return err
	}
	vm.frames = vm.frames[:1]
	main := &vm.frames[0]
	vm.truncate(min(len(vm.stack), main.LocalCount))
	if vm.bc.TopLevelLocalCount > main.LocalCount {
		main.LocalCount = vm.bc.TopLevelLocalCount
	}
	for len(vm.stack) < main.LocalCount {
		vm.push(value.Null())
	}
	vm.ip, vm.opIP = start, start
	vm.done, vm.err, vm.pausePending = false, nil, false
	vm.result = value.Null()
	return nil
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// SetGlobal defines or replaces a global.
func (vm *VM) SetGlobal(name string, v value.Value) {
	vm.globals[name] = v
	vm.own.globalWritten(name)
}

// Global looks a global up without the builtin fallback.
func (vm *VM) Global(name string) (value.Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// RegisterNative binds a host function as a global.
func (vm *VM) RegisterNative(name string, arity int, fn value.NativeFunc) {
	vm.SetGlobal(name, value.NewNative(name, arity, fn))
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Bytecode returns the unit being executed.
func (vm *VM) Bytecode() *bytecode.Bytecode { return vm.bc }

// CurrentIP is the offset of the next instruction.
func (vm *VM) CurrentIP() int { return vm.ip }

// CurrentSpan is the source location of the next instruction.
func (vm *VM) CurrentSpan() bytecode.Span { return vm.bc.SpanForOffset(vm.ip) }

// FrameDepth is the number of active frames, main included.
func (vm *VM) FrameDepth() int { return len(vm.frames) }

// StackSize is the operand stack height.
func (vm *VM) StackSize() int { return len(vm.stack) }

// FrameAt returns frame i, where 0 is main.
func (vm *VM) FrameAt(i int) (CallFrame, bool) {
	if i < 0 || i >= len(vm.frames) {
		return CallFrame{}, false
	}
	return vm.frames[i], true
}

// LocalsForFrame copies the local slots of frame i. Slots not yet pushed
// (a frame interrupted before its locals were reserved) are omitted.
func (vm *VM) LocalsForFrame(i int) []value.Value {
	fr, ok := vm.FrameAt(i)
	if !ok {
		return nil
	}
	lo := min(fr.StackBase, len(vm.stack))
	hi := min(fr.StackBase+fr.LocalCount, len(vm.stack))
	out := make([]value.Value, hi-lo)
	copy(out, vm.stack[lo:hi])
	return out
}

// GlobalVariables returns a copy of the globals map.
func (vm *VM) GlobalVariables() map[string]value.Value {
	return maps.Clone(vm.globals)
}

// DebugSpans returns the unit's offset to span records.
func (vm *VM) DebugSpans() []bytecode.DebugSpan {
	return vm.bc.DebugInfo
}
