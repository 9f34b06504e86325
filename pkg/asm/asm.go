// Package asm implements a line-oriented assembler for Atlas bytecode.
//
// A listing is a sequence of lines. Comments start with ';'.
//
//	.locals 2                         ; top-level local slots
//	.const answer 42                  ; named constant
//	.func add arity=2 params=a:own,b  ; function block, closed by .end
//	.capture n local 0                ; capture descriptor of the open function
//	.end
//	@12:5                             ; explicit span for following lines (@- resets)
//	loop:                             ; label
//	GET_LOCAL 0                       ; instruction
//
// CONSTANT accepts a number, a quoted string, true, false, null, a named
// constant, a function name or a raw pool index written #N. GET_GLOBAL and SET_GLOBAL
// take a name. Jumps take a label or a signed displacement. MAKE_CLOSURE
// takes a function name and an optional upvalue count, which defaults to
// the function's capture count.
package asm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
)

// Error is an assembly error on one source line.
type Error struct {
	Line int // 1-based
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ErrorList collects every error found in a listing.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0].Error(), len(l)-1)
}

// Symbol is a label or function definition site.
type Symbol struct {
	Name   string
	Line   int
	Offset int
	Const  int // pool index of a function's descriptor
}

// Program is the result of a successful assembly.
type Program struct {
	Bytecode  *bytecode.Bytecode
	Labels    map[string]Symbol
	Functions map[string]Symbol
	Constants map[string]Symbol // Offset holds the pool index
}

type openFunc struct {
	desc    *value.FunctionDescriptor
	skip    int // jump placeholder over the body
	locals  bool
	maxSlot int
	line    int
}

type fixup struct {
	placeholder int
	label       string
	line        int
}

type assembler struct {
	bc       *bytecode.Bytecode
	errs     ErrorList
	labels   map[string]Symbol
	funcs    map[string]Symbol
	consts   map[string]Symbol
	fnConst  map[string]uint16
	names    map[string]uint16
	fixups   []fixup
	open     []*openFunc
	topSlot  int
	topSet   bool
	span     bytecode.Span
	explicit bool
}

// Assemble translates a listing into bytecode. On failure the returned
// error is an ErrorList.
func Assemble(src string) (*Program, error) {
	a := &assembler{
		bc:      bytecode.New(),
		labels:  make(map[string]Symbol),
		funcs:   make(map[string]Symbol),
		consts:  make(map[string]Symbol),
		fnConst: make(map[string]uint16),
		names:   make(map[string]uint16),
		topSlot: -1,
	}

	offset := 0
	for i, raw := range strings.Split(src, "\n") {
		a.line(i+1, offset, raw)
		offset += len(raw) + 1
	}
	a.finish()

	if len(a.errs) > 0 {
		return nil, a.errs
	}
	return &Program{Bytecode: a.bc, Labels: a.labels, Functions: a.funcs, Constants: a.consts}, nil
}

func (a *assembler) errorf(line int, format string, args ...any) {
	a.errs = append(a.errs, &Error{Line: line, Msg: fmt.Sprintf(format, args...)})
}

func (a *assembler) line(n, start int, raw string) {
	text := raw
	if i := commentStart(text); i >= 0 {
		text = text[:i]
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	col := strings.Index(text, trimmed) + 1

	if !a.explicit {
		a.span = bytecode.Span{
			Start:  uint32(start + col - 1),
			End:    uint32(start + len(strings.TrimRight(text, " \t\r"))),
			Line:   uint32(n),
			Column: uint32(col),
		}
	}

	switch {
	case strings.HasPrefix(trimmed, "@"):
		a.spanDirective(n, trimmed[1:])
	case strings.HasPrefix(trimmed, "."):
		a.directive(n, trimmed)
	case strings.HasSuffix(trimmed, ":") && isIdent(trimmed[:len(trimmed)-1]):
		a.label(n, trimmed[:len(trimmed)-1])
	default:
		a.instruction(n, trimmed)
	}
}

// commentStart finds a ';' outside string literals.
func commentStart(s string) int {
	inStr := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inStr {
				i++
			}
		case '"':
			inStr = !inStr
		case ';':
			if !inStr {
				return i
			}
		}
	}
	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}

func (a *assembler) spanDirective(n int, arg string) {
	if arg == "-" {
		a.explicit = false
		return
	}
	lineStr, colStr, ok := strings.Cut(arg, ":")
	l, err1 := strconv.ParseUint(lineStr, 10, 32)
	c, err2 := strconv.ParseUint(colStr, 10, 32)
	if !ok || err1 != nil || err2 != nil || l == 0 {
		a.errorf(n, "malformed span %q, want @LINE:COL", "@"+arg)
		return
	}
	a.explicit = true
	a.span = bytecode.Span{Line: uint32(l), Column: uint32(c)}
}

func (a *assembler) label(n int, name string) {
	if prev, ok := a.labels[name]; ok {
		a.errorf(n, "label %q already defined on line %d", name, prev.Line)
		return
	}
	a.labels[name] = Symbol{Name: name, Line: n, Offset: a.bc.CurrentOffset()}
}

func (a *assembler) directive(n int, text string) {
	fields := strings.Fields(text)
	switch fields[0] {
	case ".locals":
		if len(a.open) > 0 {
			a.errorf(n, ".locals is only valid at top level; use locals= on .func")
			return
		}
		if len(fields) != 2 {
			a.errorf(n, ".locals takes one count")
			return
		}
		v, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			a.errorf(n, "invalid local count %q", fields[1])
			return
		}
		a.bc.TopLevelLocalCount = int(v)
		a.topSet = true
	case ".const":
		a.namedConst(n, text)
	case ".func":
		a.beginFunc(n, fields[1:])
	case ".capture":
		a.capture(n, fields[1:])
	case ".end":
		a.endFunc(n)
	default:
		a.errorf(n, "unknown directive %s", fields[0])
	}
}

func (a *assembler) namedConst(n int, text string) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, ".const"))
	name, lit, _ := strings.Cut(rest, " ")
	lit = strings.TrimSpace(lit)
	if !isIdent(name) || lit == "" {
		a.errorf(n, ".const takes NAME VALUE")
		return
	}
	if prev, ok := a.consts[name]; ok {
		a.errorf(n, "constant %q already defined on line %d", name, prev.Line)
		return
	}
	if _, ok := a.fnConst[lit]; ok || strings.HasPrefix(lit, "#") {
		a.errorf(n, ".const value must be a literal")
		return
	}
	idx, err := a.constantOperand(lit)
	if err != nil {
		a.errorf(n, "%v", err)
		return
	}
	a.consts[name] = Symbol{Name: name, Line: n, Offset: int(idx)}
}

func (a *assembler) beginFunc(n int, args []string) {
	if len(args) == 0 || !isIdent(args[0]) {
		a.errorf(n, ".func needs a function name")
		return
	}
	name := args[0]
	if prev, ok := a.funcs[name]; ok {
		a.errorf(n, "function %q already defined on line %d", name, prev.Line)
		return
	}

	desc := &value.FunctionDescriptor{Name: name}
	f := &openFunc{desc: desc, line: n, maxSlot: -1}
	for _, kv := range args[1:] {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			a.errorf(n, "malformed attribute %q, want key=value", kv)
			continue
		}
		switch key {
		case "arity":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil {
				a.errorf(n, "invalid arity %q", val)
				continue
			}
			desc.Arity = int(v)
		case "locals":
			v, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				a.errorf(n, "invalid local count %q", val)
				continue
			}
			desc.LocalCount = int(v)
			f.locals = true
		case "params":
			for _, p := range strings.Split(val, ",") {
				pname, own, _ := strings.Cut(p, ":")
				o, err := value.ParseOwnership(own)
				if err != nil {
					a.errorf(n, "parameter %s: %v", pname, err)
					continue
				}
				desc.ParamNames = append(desc.ParamNames, pname)
				desc.ParamOwnership = append(desc.ParamOwnership, o)
			}
		case "returns":
			o, err := value.ParseOwnership(val)
			if err != nil {
				a.errorf(n, "return: %v", err)
				continue
			}
			desc.ReturnOwnership = o
		default:
			a.errorf(n, "unknown .func attribute %q", key)
		}
	}
	if desc.ParamNames != nil && len(desc.ParamNames) != desc.Arity {
		if desc.Arity == 0 {
			desc.Arity = len(desc.ParamNames)
		} else {
			a.errorf(n, "arity %d does not match %d parameters", desc.Arity, len(desc.ParamNames))
		}
	}

	// The descriptor enters the pool before the body exists so the body
	// can refer to itself; its offset is patched once the skip jump is out.
	idx, err := a.bc.AddConstant(value.FromFunction(desc))
	if err != nil {
		a.errorf(n, "%v", err)
		return
	}
	a.fnConst[name] = idx
	f.skip = a.bc.EmitJump(bytecode.OpJump, a.span)
	desc.BytecodeOffset = a.bc.CurrentOffset()
	a.funcs[name] = Symbol{Name: name, Line: n, Offset: desc.BytecodeOffset, Const: int(idx)}
	a.open = append(a.open, f)
}

func (a *assembler) capture(n int, args []string) {
	if len(a.open) == 0 {
		a.errorf(n, ".capture outside .func")
		return
	}
	if len(args) != 3 {
		a.errorf(n, ".capture takes NAME local|upvalue INDEX")
		return
	}
	var src value.CaptureSource
	switch args[1] {
	case "local":
		src = value.CaptureLocal
	case "upvalue":
		src = value.CaptureUpvalue
	default:
		a.errorf(n, "capture source must be local or upvalue, got %q", args[1])
		return
	}
	idx, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		a.errorf(n, "invalid capture index %q", args[2])
		return
	}
	f := a.open[len(a.open)-1]
	if len(f.desc.Captures) >= math.MaxUint8 {
		a.errorf(n, "function %s has too many captures", f.desc.Name)
		return
	}
	f.desc.Captures = append(f.desc.Captures, value.Capture{Name: args[0], Source: src, Index: uint16(idx)})
}

func (a *assembler) endFunc(n int) {
	if len(a.open) == 0 {
		a.errorf(n, ".end without .func")
		return
	}
	f := a.open[len(a.open)-1]
	a.open = a.open[:len(a.open)-1]

	need := max(f.desc.Arity, f.maxSlot+1)
	if !f.locals {
		f.desc.LocalCount = need
	} else if f.desc.LocalCount < need {
		a.errorf(n, "function %s uses %d local slots but declares locals=%d", f.desc.Name, need, f.desc.LocalCount)
	}
	if err := a.bc.PatchJump(f.skip); err != nil {
		a.errorf(n, "%v", err)
	}
}

func (a *assembler) noteSlot(slot int) {
	if len(a.open) > 0 {
		f := a.open[len(a.open)-1]
		f.maxSlot = max(f.maxSlot, slot)
		return
	}
	a.topSlot = max(a.topSlot, slot)
}

func (a *assembler) finish() {
	for _, f := range a.open {
		a.errorf(f.line, "function %s is missing .end", f.desc.Name)
	}
	for _, fx := range a.fixups {
		sym, ok := a.labels[fx.label]
		if !ok {
			a.errorf(fx.line, "undefined label %q", fx.label)
			continue
		}
		if err := a.bc.PatchJumpTo(fx.placeholder, sym.Offset); err != nil {
			a.errorf(fx.line, "%v", err)
		}
	}
	if need := a.topSlot + 1; need > a.bc.TopLevelLocalCount {
		if a.topSet {
			a.errorf(1, "top-level code uses %d local slots but .locals is %d", need, a.bc.TopLevelLocalCount)
		} else {
			a.bc.TopLevelLocalCount = need
		}
	}
}

func (a *assembler) instruction(n int, text string) {
	mnemonic, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		mnemonic, rest = text[:i], strings.TrimSpace(text[i:])
	}
	op, ok := bytecode.LookupOpcode(strings.ToUpper(mnemonic))
	if !ok {
		a.errorf(n, "unknown instruction %q", mnemonic)
		return
	}
	info := bytecode.GetOpcodeInfo(op)

	switch info.Operand {
	case bytecode.OperandNone:
		if rest != "" {
			a.errorf(n, "%s takes no operand", info.Name)
			return
		}
		a.bc.Emit(op, a.span)

	case bytecode.OperandU8:
		v, err := strconv.ParseUint(rest, 10, 8)
		if err != nil {
			a.errorf(n, "%s needs an operand in 0..255, got %q", info.Name, rest)
			return
		}
		a.bc.Emit(op, a.span)
		a.bc.EmitU8(uint8(v))

	case bytecode.OperandI16:
		a.jump(n, op, rest)

	case bytecode.OperandU16U8:
		a.makeClosure(n, rest)

	case bytecode.OperandU16:
		var idx uint16
		var err error
		switch op {
		case bytecode.OpConstant:
			idx, err = a.constantOperand(rest)
		case bytecode.OpGetGlobal, bytecode.OpSetGlobal:
			idx, err = a.nameOperand(rest)
		default:
			var v uint64
			v, err = strconv.ParseUint(rest, 10, 16)
			idx = uint16(v)
			if err != nil {
				err = fmt.Errorf("%s needs an operand in 0..65535, got %q", info.Name, rest)
			} else if op == bytecode.OpGetLocal || op == bytecode.OpSetLocal {
				a.noteSlot(int(v))
			}
		}
		if err != nil {
			a.errorf(n, "%v", err)
			return
		}
		a.bc.Emit(op, a.span)
		a.bc.EmitU16(idx)
	}
}

func (a *assembler) jump(n int, op bytecode.Opcode, arg string) {
	if arg == "" {
		a.errorf(n, "%s needs a label or displacement", op)
		return
	}
	if isIdent(arg) {
		placeholder := a.bc.EmitJump(op, a.span)
		a.fixups = append(a.fixups, fixup{placeholder: placeholder, label: arg, line: n})
		return
	}
	v, err := strconv.ParseInt(arg, 10, 16)
	if err != nil {
		a.errorf(n, "invalid jump displacement %q", arg)
		return
	}
	a.bc.Emit(op, a.span)
	a.bc.EmitI16(int16(v))
}

func (a *assembler) makeClosure(n int, arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 || len(fields) > 2 {
		a.errorf(n, "MAKE_CLOSURE takes a function name and an optional upvalue count")
		return
	}
	idx, ok := a.fnConst[fields[0]]
	if !ok {
		a.errorf(n, "unknown function %q", fields[0])
		return
	}
	count := len(a.bc.Constants[idx].AsFunction().Captures)
	if len(fields) == 2 {
		v, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			a.errorf(n, "invalid upvalue count %q", fields[1])
			return
		}
		count = int(v)
	}
	a.bc.Emit(bytecode.OpMakeClosure, a.span)
	a.bc.EmitU16(idx)
	a.bc.EmitU8(uint8(count))
}

func (a *assembler) constantOperand(arg string) (uint16, error) {
	switch {
	case arg == "":
		return 0, fmt.Errorf("CONSTANT needs an operand")
	case strings.HasPrefix(arg, "#"):
		v, err := strconv.ParseUint(arg[1:], 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid constant index %q", arg)
		}
		return uint16(v), nil
	case strings.HasPrefix(arg, `"`):
		s, err := strconv.Unquote(arg)
		if err != nil {
			return 0, fmt.Errorf("invalid string literal %s", arg)
		}
		return a.bc.AddConstant(value.String(s))
	case arg == "true" || arg == "false":
		return a.bc.AddConstant(value.Bool(arg == "true"))
	case arg == "null":
		return a.bc.AddConstant(value.Null())
	}
	if idx, ok := a.fnConst[arg]; ok {
		return idx, nil
	}
	if sym, ok := a.consts[arg]; ok {
		return uint16(sym.Offset), nil
	}
	n, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid constant %q", arg)
	}
	return a.bc.AddConstant(value.Number(n))
}

func (a *assembler) nameOperand(arg string) (uint16, error) {
	name := arg
	if strings.HasPrefix(arg, `"`) {
		s, err := strconv.Unquote(arg)
		if err != nil {
			return 0, fmt.Errorf("invalid string literal %s", arg)
		}
		name = s
	} else if !isIdent(arg) {
		return 0, fmt.Errorf("invalid global name %q", arg)
	}
	if idx, ok := a.names[name]; ok {
		return idx, nil
	}
	idx, err := a.bc.AddConstant(value.String(name))
	if err != nil {
		return 0, err
	}
	a.names[name] = idx
	return idx, nil
}
