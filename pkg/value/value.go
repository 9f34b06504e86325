// Package value implements the Atlas runtime value model: a tagged union over
// scalars, reference-counted copy-on-write collections, callables and
// wrapper types.
package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the runtime tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
	KindSet
	KindFunction
	KindClosure
	KindBuiltin
	KindNative
	KindNoneConstructor
	KindOption
	KindResult
	KindShared
	KindRegex
	KindExtern
)

var kindNames = [...]string{
	KindNull:            "null",
	KindBool:            "bool",
	KindNumber:          "number",
	KindString:          "string",
	KindArray:           "array",
	KindMap:             "hashmap",
	KindSet:             "hashset",
	KindFunction:        "function",
	KindClosure:         "function",
	KindBuiltin:         "builtin",
	KindNative:          "function",
	KindNoneConstructor: "function",
	KindOption:          "option",
	KindResult:          "result",
	KindShared:          "shared",
	KindRegex:           "regex",
	KindExtern:          "extern",
}

// String returns the user-facing type name for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a single Atlas runtime value. The zero Value is null.
//
// Scalars are stored inline. Every other kind keeps its payload behind ref,
// so copying a Value never copies collection contents; writers go through
// the copy-on-write helpers in this package instead.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	ref  any
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Builtin returns a marker naming a native stdlib function (or extern).
func Builtin(name string) Value { return Value{kind: KindBuiltin, str: name} }

// NoneConstructor returns the zero-arity Option::None constructor literal.
func NoneConstructor() Value { return Value{kind: KindNoneConstructor, str: "None"} }

// FromFunction wraps a compiled function descriptor.
func FromFunction(fn *FunctionDescriptor) Value { return Value{kind: KindFunction, ref: fn} }

// FromClosure wraps a closure.
func FromClosure(c *Closure) Value { return Value{kind: KindClosure, ref: c} }

// FromNative wraps a host function.
func FromNative(fn *NativeFunction) Value { return Value{kind: KindNative, ref: fn} }

// Extern wraps an opaque host handle.
func Extern(handle any) Value { return Value{kind: KindExtern, ref: handle} }

// Some wraps v in Option::Some.
func Some(v Value) Value {
	inner := v
	return Value{kind: KindOption, b: true, ref: &inner}
}

// None returns Option::None.
func None() Value { return Value{kind: KindOption} }

// Ok wraps v in Result::Ok.
func Ok(v Value) Value {
	inner := v
	return Value{kind: KindResult, b: true, ref: &inner}
}

// Err wraps v in Result::Err.
func Err(v Value) Value {
	inner := v
	return Value{kind: KindResult, b: false, ref: &inner}
}

// Kind returns the value's tag.
func (v Value) Kind() Kind { return v.kind }

// TypeName returns the user-facing type name.
func (v Value) TypeName() string { return v.kind.String() }

func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsString() bool { return v.kind == KindString }

// IsCallable reports whether a Call instruction can dispatch on v.
func (v Value) IsCallable() bool {
	switch v.kind {
	case KindFunction, KindClosure, KindBuiltin, KindNative, KindNoneConstructor:
		return true
	}
	return false
}

// AsBool returns the boolean payload and whether v is a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// BuiltinName returns the builtin name for builtin markers.
func (v Value) BuiltinName() (string, bool) { return v.str, v.kind == KindBuiltin }

func (v Value) AsArray() *Array {
	a, _ := v.ref.(*Array)
	return a
}

func (v Value) AsMap() *Map {
	m, _ := v.ref.(*Map)
	return m
}

func (v Value) AsSet() *Set {
	s, _ := v.ref.(*Set)
	return s
}

func (v Value) AsFunction() *FunctionDescriptor {
	fn, _ := v.ref.(*FunctionDescriptor)
	return fn
}

func (v Value) AsClosure() *Closure {
	c, _ := v.ref.(*Closure)
	return c
}

func (v Value) AsNative() *NativeFunction {
	fn, _ := v.ref.(*NativeFunction)
	return fn
}

func (v Value) AsShared() *Shared {
	s, _ := v.ref.(*Shared)
	return s
}

func (v Value) AsRegex() *Regex {
	r, _ := v.ref.(*Regex)
	return r
}

// AsExtern returns the opaque handle of an extern value.
func (v Value) AsExtern() (any, bool) { return v.ref, v.kind == KindExtern }

// OptionPayload returns the wrapped value and whether v is Some.
// The second result is false for None and for non-option values.
func (v Value) OptionPayload() (Value, bool) {
	if v.kind != KindOption || !v.b {
		return Value{}, false
	}
	return *v.ref.(*Value), true
}

// IsSome reports whether v is Option::Some.
func (v Value) IsSome() bool { return v.kind == KindOption && v.b }

// IsNone reports whether v is Option::None.
func (v Value) IsNone() bool { return v.kind == KindOption && !v.b }

// ResultPayload returns the wrapped value and whether v is Ok.
func (v Value) ResultPayload() (Value, bool) {
	if v.kind != KindResult {
		return Value{}, false
	}
	return *v.ref.(*Value), v.b
}

// IsOk reports whether v is Result::Ok.
func (v Value) IsOk() bool { return v.kind == KindResult && v.b }

// IsErr reports whether v is Result::Err.
func (v Value) IsErr() bool { return v.kind == KindResult && !v.b }

// Truthy implements the language truthiness rule: false and null are falsy,
// everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	}
	return true
}

// Retain records an additional holder for reference-counted collections.
// It is a no-op for every other kind.
func (v Value) Retain() Value {
	switch r := v.ref.(type) {
	case *Array:
		r.refs++
	case *Map:
		r.refs++
	case *Set:
		r.refs++
	}
	return v
}

// Equal reports structural equality. Arrays, options and results compare
// element-wise; maps and sets compare by contents; callables, shared cells,
// regexes and externs compare by identity.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindString, KindBuiltin, KindNoneConstructor:
		return a.str == b.str
	case KindArray:
		x, y := a.AsArray(), b.AsArray()
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for i := range x.elems {
			if !Equal(x.elems[i], y.elems[i]) {
				return false
			}
		}
		return true
	case KindMap:
		x, y := a.AsMap(), b.AsMap()
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for k, xv := range x.entries {
			yv, ok := y.entries[k]
			if !ok || !Equal(xv.val, yv.val) {
				return false
			}
		}
		return true
	case KindSet:
		x, y := a.AsSet(), b.AsSet()
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for k := range x.members {
			if _, ok := y.members[k]; !ok {
				return false
			}
		}
		return true
	case KindOption, KindResult:
		if a.b != b.b {
			return false
		}
		if a.ref == nil || b.ref == nil {
			return a.ref == b.ref
		}
		return Equal(*a.ref.(*Value), *b.ref.(*Value))
	}
	return a.ref == b.ref
}

// FormatNumber renders a number the way the language prints it: integral
// values without a fractional part.
func FormatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// String renders v for display.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return FormatNumber(v.num)
	case KindString:
		return v.str
	case KindArray:
		var sb strings.Builder
		sb.WriteByte('[')
		for i, e := range v.AsArray().elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.Inspect())
		}
		sb.WriteByte(']')
		return sb.String()
	case KindMap:
		m := v.AsMap()
		var sb strings.Builder
		sb.WriteString("HashMap{")
		for i, k := range m.order {
			if i > 0 {
				sb.WriteString(", ")
			}
			e := m.entries[k]
			sb.WriteString(e.key.Inspect())
			sb.WriteString(": ")
			sb.WriteString(e.val.Inspect())
		}
		sb.WriteByte('}')
		return sb.String()
	case KindSet:
		s := v.AsSet()
		var sb strings.Builder
		sb.WriteString("HashSet{")
		for i, k := range s.order {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(s.members[k].Inspect())
		}
		sb.WriteByte('}')
		return sb.String()
	case KindFunction:
		return "<fn " + v.AsFunction().Name + ">"
	case KindClosure:
		return "<fn " + v.AsClosure().Function.Name + ">"
	case KindBuiltin:
		return "<builtin " + v.str + ">"
	case KindNative:
		return "<native " + v.AsNative().Name + ">"
	case KindNoneConstructor:
		return "<fn None>"
	case KindOption:
		if inner, ok := v.OptionPayload(); ok {
			return "Some(" + inner.Inspect() + ")"
		}
		return "None"
	case KindResult:
		inner, ok := v.ResultPayload()
		if ok {
			return "Ok(" + inner.Inspect() + ")"
		}
		return "Err(" + inner.Inspect() + ")"
	case KindShared:
		return "shared(" + v.AsShared().Get().Inspect() + ")"
	case KindRegex:
		return "/" + v.AsRegex().Pattern() + "/"
	case KindExtern:
		return fmt.Sprintf("<extern %T>", v.ref)
	}
	return "<unknown>"
}

// Inspect is like String but quotes strings, for nested display.
func (v Value) Inspect() string {
	if v.kind == KindString {
		return strconv.Quote(v.str)
	}
	return v.String()
}
