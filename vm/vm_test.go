package vm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/atlas-lang/atlas/pkg/asm"
	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func assemble(t *testing.T, src string) *bytecode.Bytecode {
	t.Helper()
	prog, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return prog.Bytecode
}

func mustRun(t *testing.T, vm *VM) value.Value {
	t.Helper()
	v, err := vm.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

func runSource(t *testing.T, src string, opts ...Option) (value.Value, error) {
	t.Helper()
	return New(assemble(t, src), opts...).Run()
}

func numberOf(t *testing.T, v value.Value) float64 {
	t.Helper()
	n, ok := v.AsNumber()
	if !ok {
		t.Fatalf("got %s, want a number", v.Inspect())
	}
	return n
}

// ---------------------------------------------------------------------------
// Construction and termination
// ---------------------------------------------------------------------------

func TestEmptyProgram(t *testing.T) {
	v := mustRun(t, New(bytecode.New()))
	if !v.IsNull() {
		t.Errorf("result = %s, want null", v.Inspect())
	}
}

func TestNewReservesTopLevelLocals(t *testing.T) {
	bc := bytecode.New()
	bc.TopLevelLocalCount = 3
	vm := New(bc)
	if vm.StackSize() != 3 {
		t.Errorf("StackSize = %d, want 3", vm.StackSize())
	}
	for i, v := range vm.LocalsForFrame(0) {
		if !v.IsNull() {
			t.Errorf("local %d = %s, want null", i, v.Inspect())
		}
	}
}

func TestReturnFromMainTerminates(t *testing.T) {
	vm := New(assemble(t, `
		CONSTANT 7
		RETURN
		CONSTANT 8
		HALT
	`))
	if n := numberOf(t, mustRun(t, vm)); n != 7 {
		t.Errorf("result = %v, want 7", n)
	}
	if !vm.Done() {
		t.Error("Done() = false after main returned")
	}
	// A finished VM keeps reporting its result.
	if n := numberOf(t, mustRun(t, vm)); n != 7 {
		t.Errorf("second Run = %v, want 7", n)
	}
}

func TestHaltWithoutValueIsNull(t *testing.T) {
	v, err := runSource(t, `
		.locals 1
		CONSTANT 1
		SET_LOCAL 0
		POP
		HALT
	`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("result = %s, want null (locals are not results)", v.Inspect())
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want value.Value
	}{
		{"add", "CONSTANT 2\nCONSTANT 3\nADD\nHALT", value.Number(5)},
		{"sub order", "CONSTANT 10\nCONSTANT 4\nSUB\nHALT", value.Number(6)},
		{"mul", "CONSTANT 6\nCONSTANT 7\nMUL\nHALT", value.Number(42)},
		{"div", "CONSTANT 10\nCONSTANT 4\nDIV\nHALT", value.Number(2.5)},
		{"mod", "CONSTANT 7\nCONSTANT 3\nMOD\nHALT", value.Number(1)},
		{"negate", "CONSTANT 3\nNEGATE\nHALT", value.Number(-3)},
		{"concat", "CONSTANT \"foo\"\nCONSTANT \"bar\"\nADD\nHALT", value.String("foobar")},
		{"less", "CONSTANT 1\nCONSTANT 2\nLESS\nHALT", value.Bool(true)},
		{"greater equal", "CONSTANT 2\nCONSTANT 2\nGREATER_EQUAL\nHALT", value.Bool(true)},
		{"string equality", "CONSTANT \"a\"\nCONSTANT \"a\"\nEQUAL\nHALT", value.Bool(true)},
		{"not equal kinds", "CONSTANT 1\nCONSTANT \"1\"\nNOT_EQUAL\nHALT", value.Bool(true)},
		{"not null", "NULL\nNOT\nHALT", value.Bool(true)},
		{"zero is truthy", "CONSTANT 0\nNOT\nHALT", value.Bool(false)},
		{"and", "TRUE\nNULL\nAND\nHALT", value.Bool(false)},
		{"or", "FALSE\nCONSTANT \"\"\nOR\nHALT", value.Bool(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runSource(t, tt.src)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !value.Equal(got, tt.want) {
				t.Errorf("got %s, want %s", got.Inspect(), tt.want.Inspect())
			}
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"divide by zero", "CONSTANT 10\nCONSTANT 0\nDIV\nHALT", ErrDivideByZero},
		{"zero over zero", "CONSTANT 0\nCONSTANT 0\nDIV\nHALT", ErrDivideByZero},
		{"mod by zero", "CONSTANT 10\nCONSTANT 0\nMOD\nHALT", ErrDivideByZero},
		{"overflow", "CONSTANT 1e308\nCONSTANT 10\nMUL\nHALT", ErrInvalidNumericResult},
		{"add mixed", "CONSTANT \"a\"\nCONSTANT 1\nADD\nHALT", ErrTypeError},
		{"add number string", "CONSTANT 1\nCONSTANT \"a\"\nADD\nHALT", ErrTypeError},
		{"compare strings", "CONSTANT \"a\"\nCONSTANT \"b\"\nLESS\nHALT", ErrTypeError},
		{"negate string", "CONSTANT \"a\"\nNEGATE\nHALT", ErrTypeError},
		{"undefined global", "GET_GLOBAL nowhere\nHALT", ErrUndefinedVariable},
		{"pop empty", "POP\nHALT", ErrStackUnderflow},
		{"call number", "CONSTANT 1\nCALL 0\nHALT", ErrTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runSource(t, tt.src)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var rt *RuntimeError
			if !errors.As(err, &rt) {
				t.Fatalf("err is %T, want *RuntimeError", err)
			}
		})
	}
}

func TestUnknownOpcode(t *testing.T) {
	bc := bytecode.New()
	bc.Instructions = append(bc.Instructions, byte(bytecode.OpNull), 0xEE)
	_, err := New(bc).Run()
	if !errors.Is(err, ErrUnknownOpcode) {
		t.Fatalf("err = %v, want ErrUnknownOpcode", err)
	}
	var rt *RuntimeError
	if errors.As(err, &rt) && rt.IP != 1 {
		t.Errorf("IP = %d, want 1", rt.IP)
	}
}

func TestTruncatedOperand(t *testing.T) {
	bc := bytecode.New()
	bc.Instructions = append(bc.Instructions, byte(bytecode.OpConstant), 0)
	if _, err := New(bc).Run(); !errors.Is(err, ErrUnknownOpcode) {
		t.Errorf("err = %v, want ErrUnknownOpcode", err)
	}
}

func TestErrorCarriesSpan(t *testing.T) {
	_, err := runSource(t, `
		CONSTANT 1
		@3:7
		CONSTANT 0
		DIV
		HALT
	`)
	var rt *RuntimeError
	if !errors.As(err, &rt) {
		t.Fatalf("err = %v, want *RuntimeError", err)
	}
	if rt.Span.Line != 3 || rt.Span.Column != 7 {
		t.Errorf("span = %s, want 3:7", rt.Span)
	}
	if !strings.HasPrefix(err.Error(), "3:7: divide by zero") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestErrorWithoutDebugInfoHasNoSpan(t *testing.T) {
	bc := bytecode.New()
	bc.Emit(bytecode.OpPop, bytecode.NoSpan)
	_, err := New(bc).Run()
	var rt *RuntimeError
	if !errors.As(err, &rt) {
		t.Fatalf("err = %v, want *RuntimeError", err)
	}
	if !rt.Span.IsZero() {
		t.Errorf("span = %s, want none", rt.Span)
	}
}

func TestFaultIsSticky(t *testing.T) {
	vm := New(assemble(t, "POP\nHALT"))
	_, first := vm.Run()
	_, second := vm.Run()
	if first == nil || first != second {
		t.Errorf("second Run err = %v, want the first error %v", second, first)
	}
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func TestLocalsAndGlobals(t *testing.T) {
	vm := New(assemble(t, `
		.locals 1
		CONSTANT 5
		SET_LOCAL 0
		POP
		GET_LOCAL 0
		CONSTANT 1
		ADD
		SET_GLOBAL x
		HALT
	`))
	if n := numberOf(t, mustRun(t, vm)); n != 6 {
		t.Errorf("result = %v, want 6", n)
	}
	x, ok := vm.Global("x")
	if !ok || numberOf(t, x) != 6 {
		t.Errorf("global x = %s (defined %v), want 6", x.Inspect(), ok)
	}
	if _, ok := vm.GlobalVariables()["x"]; !ok {
		t.Error("GlobalVariables should include x")
	}
}

func TestGetLocalOutOfRange(t *testing.T) {
	bc := bytecode.New()
	bc.Emit(bytecode.OpGetLocal, bytecode.NoSpan)
	bc.EmitU16(0)
	bc.Emit(bytecode.OpHalt, bytecode.NoSpan)
	if _, err := New(bc).Run(); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
}

func TestGlobalFallbacks(t *testing.T) {
	tests := []struct {
		name string
		want value.Kind
	}{
		{"None", value.KindNoneConstructor},
		{"len", value.KindBuiltin},
		{"map", value.KindBuiltin},
		{"PI", value.KindNumber},
	}
	for _, tt := range tests {
		v, err := runSource(t, "GET_GLOBAL "+tt.name+"\nHALT")
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if v.Kind() != tt.want {
			t.Errorf("%s resolved to %s, want kind %s", tt.name, v.Inspect(), tt.want)
		}
	}
	v, _ := runSource(t, "GET_GLOBAL PI\nHALT")
	if n, _ := v.AsNumber(); n != math.Pi {
		t.Errorf("PI = %v", n)
	}
}

func TestGlobalShadowsBuiltin(t *testing.T) {
	vm := New(assemble(t, "GET_GLOBAL len\nHALT"))
	vm.SetGlobal("len", value.Number(3))
	if n := numberOf(t, mustRun(t, vm)); n != 3 {
		t.Errorf("len = %v, want the global 3", n)
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

const sumLoop = `
.locals 2
  CONSTANT 0
  SET_LOCAL 0
  POP
  CONSTANT 1
  SET_LOCAL 1
  POP
loop:
  GET_LOCAL 1
  CONSTANT 5
  LESS_EQUAL
  JUMP_IF_FALSE done
  GET_LOCAL 0
  GET_LOCAL 1
  ADD
  SET_LOCAL 0
  POP
  GET_LOCAL 1
  CONSTANT 1
  ADD
  SET_LOCAL 1
  POP
  LOOP loop
done:
  GET_LOCAL 0
  HALT
`

func TestLoop(t *testing.T) {
	v, err := runSource(t, sumLoop)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := numberOf(t, v); n != 15 {
		t.Errorf("sum = %v, want 15", n)
	}
}

func TestJumpOutsideCode(t *testing.T) {
	bc := bytecode.New()
	bc.Emit(bytecode.OpJump, bytecode.NoSpan)
	bc.EmitI16(100)
	if _, err := New(bc).Run(); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

const addProgram = `
.func add arity=2
  GET_LOCAL 0
  GET_LOCAL 1
  ADD
  RETURN
.end
  CONSTANT add
  CONSTANT 2
  CONSTANT 3
call:
  CALL 2
after:
  HALT
`

func TestCallFunction(t *testing.T) {
	vm := New(assemble(t, addProgram))
	if n := numberOf(t, mustRun(t, vm)); n != 5 {
		t.Errorf("add(2, 3) = %v, want 5", n)
	}
	if vm.StackSize() != 1 {
		t.Errorf("StackSize = %d after call, want 1", vm.StackSize())
	}
	if vm.FrameDepth() != 1 {
		t.Errorf("FrameDepth = %d, want 1", vm.FrameDepth())
	}
}

func TestCallArityMismatch(t *testing.T) {
	_, err := runSource(t, `
.func add arity=2
  GET_LOCAL 0
  RETURN
.end
  CONSTANT add
  CONSTANT 1
  CALL 1
  HALT
`)
	if !errors.Is(err, ErrTypeError) {
		t.Fatalf("err = %v, want ErrTypeError", err)
	}
	if !strings.Contains(err.Error(), "expects 2 arguments, got 1") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestReturnWithoutValue(t *testing.T) {
	v, err := runSource(t, `
.func nothing locals=2
  RETURN
.end
  CONSTANT nothing
  CALL 0
  HALT
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.IsNull() {
		t.Errorf("result = %s, want null", v.Inspect())
	}
}

func TestRecursion(t *testing.T) {
	v, err := runSource(t, `
.func fact arity=1
  GET_LOCAL 0
  CONSTANT 1
  LESS_EQUAL
  JUMP_IF_FALSE recurse
  CONSTANT 1
  RETURN
recurse:
  GET_LOCAL 0
  GET_GLOBAL fact
  GET_LOCAL 0
  CONSTANT 1
  SUB
  CALL 1
  MUL
  RETURN
.end
  CONSTANT fact
  SET_GLOBAL fact
  POP
  GET_GLOBAL fact
  CONSTANT 5
  CALL 1
  HALT
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := numberOf(t, v); n != 120 {
		t.Errorf("fact(5) = %v, want 120", n)
	}
}

func TestStackOverflow(t *testing.T) {
	_, err := runSource(t, `
.func forever
  GET_GLOBAL forever
  CALL 0
  RETURN
.end
  CONSTANT forever
  SET_GLOBAL forever
  CALL 0
  HALT
`, WithMaxFrames(50))
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("err = %v, want ErrStackOverflow", err)
	}
}

func TestBuiltinCalls(t *testing.T) {
	v, err := runSource(t, "GET_GLOBAL len\nCONSTANT \"abc\"\nCALL 1\nHALT")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := numberOf(t, v); n != 3 {
		t.Errorf("len = %v, want 3", n)
	}

	_, err = runSource(t, "GET_GLOBAL sqrt\nCONSTANT -1\nCALL 1\nHALT")
	if !errors.Is(err, ErrInvalidNumericResult) {
		t.Errorf("sqrt(-1) err = %v, want ErrInvalidNumericResult", err)
	}
	if !errors.Is(err, stdlib.ErrInvalidNumeric) {
		t.Errorf("sqrt(-1) should keep the stdlib cause, got %v", err)
	}

	_, err = runSource(t, "GET_GLOBAL len\nCALL 0\nHALT")
	if !errors.Is(err, ErrTypeError) {
		t.Errorf("len() err = %v, want ErrTypeError", err)
	}
}

func TestUnknownBuiltin(t *testing.T) {
	vm := New(assemble(t, "GET_GLOBAL ghost\nCALL 0\nHALT"))
	vm.SetGlobal("ghost", value.Builtin("ghost"))
	if _, err := vm.Run(); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("err = %v, want ErrUnknownFunction", err)
	}
}

func TestPrintNeedsCapability(t *testing.T) {
	src := "GET_GLOBAL println\nCONSTANT \"hello\"\nCALL 1\nHALT"
	if _, err := runSource(t, src); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("default context err = %v, want ErrPermissionDenied", err)
	}

	var out bytes.Buffer
	ctx := stdlib.NewContext(stdlib.NewPolicy("io"), &out)
	if _, err := runSource(t, src, WithContext(ctx)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hello\n" {
		t.Errorf("output = %q, want %q", out.String(), "hello\n")
	}
}

func TestNoneConstructor(t *testing.T) {
	v, err := runSource(t, "GET_GLOBAL None\nCALL 0\nHALT")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !v.IsNone() {
		t.Errorf("None() = %s", v.Inspect())
	}
	if _, err := runSource(t, "GET_GLOBAL None\nCONSTANT 1\nCALL 1\nHALT"); !errors.Is(err, ErrTypeError) {
		t.Errorf("None(1) err = %v, want ErrTypeError", err)
	}
}

func TestNativeFunction(t *testing.T) {
	vm := New(assemble(t, "GET_GLOBAL double\nCONSTANT 21\nCALL 1\nHALT"))
	vm.RegisterNative("double", 1, func(args []value.Value) (value.Value, error) {
		n, _ := args[0].AsNumber()
		return value.Number(n * 2), nil
	})
	if n := numberOf(t, mustRun(t, vm)); n != 42 {
		t.Errorf("double(21) = %v, want 42", n)
	}
}

func TestNativeError(t *testing.T) {
	vm := New(assemble(t, "GET_GLOBAL boom\nCALL 0\nHALT"))
	cause := errors.New("boom")
	vm.RegisterNative("boom", 0, func([]value.Value) (value.Value, error) {
		return value.Null(), cause
	})
	_, err := vm.Run()
	if !errors.Is(err, ErrTypeError) || !errors.Is(err, cause) {
		t.Errorf("err = %v, want a type error wrapping the cause", err)
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureSharedUpvalueChain(t *testing.T) {
	v, err := runSource(t, `
.locals 1
.func inc
.capture n upvalue 0
  GET_UPVALUE 0
  CONSTANT 1
  ADD
  SET_UPVALUE 0
  RETURN
.end
.func read
.capture n upvalue 0
  GET_UPVALUE 0
  RETURN
.end
.func pair
.capture n local 0
  GET_UPVALUE 0
  MAKE_CLOSURE inc
  GET_UPVALUE 0
  MAKE_CLOSURE read
  ARRAY 2
  RETURN
.end
  CONSTANT 10
  MAKE_CLOSURE pair
  CALL 0
  SET_LOCAL 0
  POP
  GET_LOCAL 0
  CONSTANT 0
  GET_INDEX
  CALL 0
  POP
  GET_LOCAL 0
  CONSTANT 0
  GET_INDEX
  CALL 0
  POP
  GET_LOCAL 0
  CONSTANT 1
  GET_INDEX
  CALL 0
  HALT
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := numberOf(t, v); n != 12 {
		t.Errorf("read() = %v, want 12 after two increments through a sibling closure", n)
	}
}

func TestClosureCapturesValue(t *testing.T) {
	v, err := runSource(t, `
.locals 1
.func get
.capture x local 0
  GET_UPVALUE 0
  RETURN
.end
  CONSTANT 1
  SET_LOCAL 0
  MAKE_CLOSURE get
  CONSTANT 2
  SET_LOCAL 0
  POP
  CALL 0
  HALT
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := numberOf(t, v); n != 1 {
		t.Errorf("captured = %v, want 1", n)
	}
}

func TestUpvalueOutOfRange(t *testing.T) {
	if _, err := runSource(t, "GET_UPVALUE 0\nHALT"); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func TestArrayIndexing(t *testing.T) {
	tests := []struct {
		name  string
		index string
		want  float64
		err   error
	}{
		{"first", "0", 1, nil},
		{"last", "2", 3, nil},
		{"past end", "3", 0, ErrOutOfBounds},
		{"huge", "1e20", 0, ErrOutOfBounds},
		{"fractional", "1.5", 0, ErrInvalidIndex},
		{"negative", "-1", 0, ErrInvalidIndex},
		{"string", "\"0\"", 0, ErrInvalidIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := runSource(t, "CONSTANT 1\nCONSTANT 2\nCONSTANT 3\nARRAY 3\nCONSTANT "+tt.index+"\nGET_INDEX\nHALT")
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if n := numberOf(t, v); n != tt.want {
				t.Errorf("got %v, want %v", n, tt.want)
			}
		})
	}
}

func TestStringIndexing(t *testing.T) {
	v, err := runSource(t, "CONSTANT \"héllo\"\nCONSTANT 1\nGET_INDEX\nHALT")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s, _ := v.AsString(); s != "é" {
		t.Errorf("got %q, want %q", s, "é")
	}
}

func TestSetIndexCopyOnWrite(t *testing.T) {
	v, err := runSource(t, `
.locals 2
  CONSTANT 1
  CONSTANT 2
  ARRAY 2
  SET_LOCAL 0
  POP
  GET_LOCAL 0
  SET_LOCAL 1
  POP
  GET_LOCAL 1
  CONSTANT 0
  CONSTANT 9
  SET_INDEX
  SET_LOCAL 1
  POP
  GET_LOCAL 0
  CONSTANT 0
  GET_INDEX
  GET_LOCAL 1
  CONSTANT 0
  GET_INDEX
  ARRAY 2
  HALT
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := v.Inspect(); got != "[1, 9]" {
		t.Errorf("[a[0], b[0]] = %s, want [1, 9]", got)
	}
}

func TestSetIndexBounds(t *testing.T) {
	tests := []struct {
		name  string
		index string
		err   error
	}{
		{"past end", "2", ErrOutOfBounds},
		{"huge", "1e20", ErrOutOfBounds},
		{"fractional", "0.5", ErrInvalidIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runSource(t, "CONSTANT 1\nCONSTANT 2\nARRAY 2\nCONSTANT "+tt.index+"\nCONSTANT 9\nSET_INDEX\nHALT")
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestArrayLengthAndPatterns(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want value.Value
	}{
		{"len", "NULL\nNULL\nARRAY 2\nGET_ARRAY_LEN\nHALT", value.Number(2)},
		{"is array", "NULL\nARRAY 1\nIS_ARRAY\nHALT", value.Bool(true)},
		{"is some", "GET_GLOBAL Some\nCONSTANT 5\nCALL 1\nIS_OPTION_SOME\nHALT", value.Bool(true)},
		{"is none", "GET_GLOBAL None\nCALL 0\nIS_OPTION_NONE\nHALT", value.Bool(true)},
		{"is ok", "GET_GLOBAL Err\nCONSTANT 5\nCALL 1\nIS_RESULT_OK\nHALT", value.Bool(false)},
		{"is err", "GET_GLOBAL Err\nCONSTANT 5\nCALL 1\nIS_RESULT_ERR\nHALT", value.Bool(true)},
		{"extract some", "GET_GLOBAL Some\nCONSTANT 5\nCALL 1\nEXTRACT_OPTION_VALUE\nHALT", value.Number(5)},
		{"extract err", "GET_GLOBAL Err\nCONSTANT \"bad\"\nCALL 1\nEXTRACT_RESULT_VALUE\nHALT", value.String("bad")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runSource(t, tt.src)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !value.Equal(got, tt.want) {
				t.Errorf("got %s, want %s", got.Inspect(), tt.want.Inspect())
			}
		})
	}
	if _, err := runSource(t, "GET_GLOBAL None\nCALL 0\nEXTRACT_OPTION_VALUE\nHALT"); !errors.Is(err, ErrTypeError) {
		t.Errorf("extracting from None: err = %v, want ErrTypeError", err)
	}
}

// ---------------------------------------------------------------------------
// Loading more code
// ---------------------------------------------------------------------------

func TestLoadContinuesWithGlobals(t *testing.T) {
	vm := New(assemble(t, "CONSTANT 41\nSET_GLOBAL x\nHALT"))
	mustRun(t, vm)
	if err := vm.Load(assemble(t, "GET_GLOBAL x\nCONSTANT 1\nADD\nHALT")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if vm.Done() {
		t.Fatal("Done() should reset after Load")
	}
	if n := numberOf(t, mustRun(t, vm)); n != 42 {
		t.Errorf("result = %v, want 42", n)
	}
}
