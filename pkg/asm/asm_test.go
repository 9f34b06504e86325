package asm

import (
	"errors"
	"strings"
	"testing"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
)

func TestAssembleSimple(t *testing.T) {
	prog, err := Assemble(`
		CONSTANT 40
		CONSTANT 2
		ADD
		HALT
	`)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	want := []byte{
		byte(bytecode.OpConstant), 0, 0,
		byte(bytecode.OpConstant), 0, 1,
		byte(bytecode.OpAdd),
		byte(bytecode.OpHalt),
	}
	if string(bc.Instructions) != string(want) {
		t.Errorf("Instructions = % X, want % X", bc.Instructions, want)
	}
	if n, _ := bc.Constants[1].AsNumber(); n != 2 {
		t.Errorf("constant 1 = %v, want 2", n)
	}
}

func TestAssembleFunction(t *testing.T) {
	prog, err := Assemble(`
.func add params=a:own,b:borrow returns=own
  GET_LOCAL 0
  GET_LOCAL 1
  ADD
  RETURN
.end
  CONSTANT add
  SET_GLOBAL add
  POP
  HALT
`)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	fn := bc.Constants[0].AsFunction()
	if fn == nil {
		t.Fatal("constant 0 should be the function descriptor")
	}
	if fn.Arity != 2 || fn.LocalCount != 2 {
		t.Errorf("arity/locals = %d/%d, want 2/2", fn.Arity, fn.LocalCount)
	}
	if fn.ParamOwnershipAt(0) != value.OwnershipOwn || fn.ParamOwnershipAt(1) != value.OwnershipBorrow {
		t.Errorf("ownership = %v", fn.ParamOwnership)
	}
	if fn.ReturnOwnership != value.OwnershipOwn {
		t.Errorf("return ownership = %v", fn.ReturnOwnership)
	}
	// The body starts right after the 3-byte skip jump.
	if fn.BytecodeOffset != 3 {
		t.Errorf("BytecodeOffset = %d, want 3", fn.BytecodeOffset)
	}
	if bytecode.Opcode(bc.Instructions[0]) != bytecode.OpJump {
		t.Fatalf("first instruction = %s, want JUMP", bytecode.Opcode(bc.Instructions[0]))
	}
	if target := 3 + int(bc.ReadI16(1)); target != fn.BytecodeOffset+8 {
		t.Errorf("skip jump lands at %d, want %d", target, fn.BytecodeOffset+8)
	}
	sym := prog.Functions["add"]
	if sym.Line != 2 {
		t.Errorf("function symbol line = %d, want 2", sym.Line)
	}
	if sym.Offset != fn.BytecodeOffset || sym.Const != 0 {
		t.Errorf("function symbol offset/const = %d/%d, want %d/0", sym.Offset, sym.Const, fn.BytecodeOffset)
	}
}

func TestAssembleLabels(t *testing.T) {
	prog, err := Assemble(`
top:
  TRUE
  JUMP_IF_FALSE done
  LOOP top
done:
  HALT
`)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	// TRUE(0) JUMP_IF_FALSE(1..3) LOOP(4..6) HALT(7)
	if target := 2 + 2 + int(bc.ReadI16(2)); target != 7 {
		t.Errorf("forward jump target = %d, want 7", target)
	}
	if target := 5 + 2 + int(bc.ReadI16(5)); target != 0 {
		t.Errorf("loop target = %d, want 0", target)
	}
	if prog.Labels["done"].Offset != 7 {
		t.Errorf("label done = %d, want 7", prog.Labels["done"].Offset)
	}
}

func TestAssembleClosureCaptures(t *testing.T) {
	prog, err := Assemble(`
.func inner
.capture n local 0
  GET_UPVALUE 0
  RETURN
.end
  CONSTANT 1
  SET_LOCAL 0
  MAKE_CLOSURE inner
  HALT
`)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	if bc.TopLevelLocalCount != 1 {
		t.Errorf("TopLevelLocalCount = %d, want 1", bc.TopLevelLocalCount)
	}
	end := len(bc.Instructions)
	// MAKE_CLOSURE <fn:u16> <count:u8> HALT
	if got := bc.Instructions[end-2]; got != 1 {
		t.Errorf("upvalue count = %d, want 1", got)
	}
	fn := bc.Constants[0].AsFunction()
	if len(fn.Captures) != 1 || fn.Captures[0].Source != value.CaptureLocal {
		t.Errorf("captures = %+v", fn.Captures)
	}
}

func TestAssembleSpans(t *testing.T) {
	prog, err := Assemble("NULL\n@7:3\nPOP\nHALT\n@-\nHALT")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	if span := bc.SpanForOffset(0); span.Line != 1 || span.Column != 1 {
		t.Errorf("span(0) = %v, want 1:1", span)
	}
	if span := bc.SpanForOffset(1); span.Line != 7 || span.Column != 3 {
		t.Errorf("span(1) = %v, want 7:3", span)
	}
	if span := bc.SpanForOffset(2); span.Line != 7 {
		t.Errorf("span(2) = %v, want explicit span to persist", span)
	}
	if span := bc.SpanForOffset(3); span.Line != 6 {
		t.Errorf("span(3) = %v, want line 6 after reset", span)
	}
}

func TestAssembleStringsAndComments(t *testing.T) {
	prog, err := Assemble(`CONSTANT "a;b" ; trailing comment`)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if s, _ := prog.Bytecode.Constants[0].AsString(); s != "a;b" {
		t.Errorf("string constant = %q, want %q", s, "a;b")
	}
}

func TestAssembleGlobalNamesInterned(t *testing.T) {
	prog, err := Assemble("GET_GLOBAL x\nSET_GLOBAL x\nGET_GLOBAL y")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if n := len(prog.Bytecode.Constants); n != 2 {
		t.Errorf("got %d constants, want 2", n)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown instruction", "FROB", "unknown instruction"},
		{"missing operand", "GET_LOCAL", "operand"},
		{"extra operand", "ADD 3", "takes no operand"},
		{"undefined label", "JUMP nowhere", "undefined label"},
		{"unclosed func", ".func f\nRETURN", "missing .end"},
		{"stray end", ".end", ".end without .func"},
		{"bad ownership", ".func f params=a:lent\n.end", "unknown ownership"},
		{"too few locals", ".func f locals=1\nGET_LOCAL 3\n.end", "declares locals=1"},
		{"unknown closure fn", "MAKE_CLOSURE g", "unknown function"},
		{"duplicate label", "a:\na:", "already defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			if err == nil {
				t.Fatal("expected error")
			}
			var list ErrorList
			if !errors.As(err, &list) {
				t.Fatalf("error %T is not an ErrorList", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestAssembleReportsAllErrors(t *testing.T) {
	_, err := Assemble("FROB\nADD\nFIZZ")
	var list ErrorList
	if !errors.As(err, &list) {
		t.Fatalf("error %v is not an ErrorList", err)
	}
	if len(list) != 2 || list[0].Line != 1 || list[1].Line != 3 {
		t.Errorf("errors = %v", list)
	}
}

func TestAssembleNamedConstants(t *testing.T) {
	prog, err := Assemble(".const answer 42\n.const greeting \"hi there\"\nCONSTANT answer\nCONSTANT greeting\nCONSTANT answer")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	bc := prog.Bytecode
	if len(bc.Constants) != 2 {
		t.Fatalf("got %d constants, want 2", len(bc.Constants))
	}
	if got := bc.ReadU16(7); got != 0 {
		t.Errorf("third CONSTANT operand = %d, want 0", got)
	}
	if sym := prog.Constants["greeting"]; sym.Offset != 1 || sym.Line != 2 {
		t.Errorf("greeting symbol = %+v", sym)
	}
	if s, _ := bc.Constants[1].AsString(); s != "hi there" {
		t.Errorf("greeting = %q", s)
	}
}
