package stdlib

import (
	"bytes"
	"errors"
	"testing"

	"github.com/atlas-lang/atlas/pkg/value"
)

func call(t *testing.T, ctx *Context, name string, args ...value.Value) (value.Value, error) {
	t.Helper()
	b, ok := Lookup(name)
	if !ok {
		t.Fatalf("builtin %q not registered", name)
	}
	return b.Call(ctx, args)
}

func mustCall(t *testing.T, name string, args ...value.Value) value.Value {
	t.Helper()
	v, err := call(t, NewContext(AllowAll(), &bytes.Buffer{}), name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func TestPrintRequiresIO(t *testing.T) {
	var out bytes.Buffer
	_, err := call(t, NewContext(DenyAll(), &out), "println", value.String("hi"))
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if out.Len() != 0 {
		t.Errorf("denied print wrote %q", out.String())
	}

	if _, err := call(t, NewContext(NewPolicy("io"), &out), "println", value.String("a"), value.Number(2)); err != nil {
		t.Fatalf("println: %v", err)
	}
	if out.String() != "a 2\n" {
		t.Errorf("output = %q, want %q", out.String(), "a 2\n")
	}
}

func TestPolicy(t *testing.T) {
	p := NewPolicy("io", " ffi ")
	if err := p.Check(CapFFI); err != nil {
		t.Errorf("ffi should be granted: %v", err)
	}
	if err := NewPolicy().Check(CapIO); err == nil {
		t.Error("empty policy should deny io")
	}
	if err := NewPolicy("*").Check(CapFFI); err != nil {
		t.Errorf("* should grant everything: %v", err)
	}
	if got := p.String(); got != "ffi,io" {
		t.Errorf("String() = %q, want %q", got, "ffi,io")
	}
}

func TestArity(t *testing.T) {
	_, err := call(t, NewContext(AllowAll(), nil), "len")
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestLen(t *testing.T) {
	tests := []struct {
		v    value.Value
		want float64
	}{
		{value.String("héllo"), 5},
		{value.NewArray([]value.Value{value.Null(), value.Null()}), 2},
		{value.NewMap(), 0},
	}
	for _, tt := range tests {
		got, _ := mustCall(t, "len", tt.v).AsNumber()
		if got != tt.want {
			t.Errorf("len(%s) = %v, want %v", tt.v.Inspect(), got, tt.want)
		}
	}
}

func TestMathRejectsNonFinite(t *testing.T) {
	_, err := call(t, NewContext(AllowAll(), nil), "sqrt", value.Number(-1))
	if !errors.Is(err, ErrInvalidNumeric) {
		t.Errorf("sqrt(-1) err = %v, want ErrInvalidNumeric", err)
	}
	if n, _ := mustCall(t, "max", value.Number(3), value.Number(9), value.Number(4)).AsNumber(); n != 9 {
		t.Errorf("max = %v, want 9", n)
	}
}

func TestRange(t *testing.T) {
	arr := mustCall(t, "range", value.Number(1), value.Number(7), value.Number(2)).AsArray()
	want := []float64{1, 3, 5}
	if arr.Len() != len(want) {
		t.Fatalf("len = %d, want %d", arr.Len(), len(want))
	}
	for i, w := range want {
		if n, _ := arr.At(i).AsNumber(); n != w {
			t.Errorf("range[%d] = %v, want %v", i, n, w)
		}
	}
	if _, err := call(t, NewContext(AllowAll(), nil), "range", value.Number(0), value.Number(3), value.Number(0)); err == nil {
		t.Error("zero step should fail")
	}
}

func TestSliceBounds(t *testing.T) {
	arr := mustCall(t, "range", value.Number(5))
	_, err := call(t, NewContext(AllowAll(), nil), "slice", arr, value.Number(2), value.Number(9))
	if !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("err = %v, want ErrOutOfBounds", err)
	}
	for _, huge := range []float64{1e20, -1e20} {
		_, err := call(t, NewContext(AllowAll(), nil), "slice", arr, value.Number(0), value.Number(huge))
		if !errors.Is(err, ErrOutOfBounds) {
			t.Errorf("slice(arr, 0, %g) err = %v, want ErrOutOfBounds", huge, err)
		}
	}
	got := mustCall(t, "slice", arr, value.Number(1), value.Number(3)).AsArray()
	if got.Len() != 2 {
		t.Errorf("slice len = %d, want 2", got.Len())
	}
}

func TestHashMapBuiltins(t *testing.T) {
	m := mustCall(t, "hashMapNew")
	m = mustCall(t, "hashMapPut", m, value.String("k"), value.Number(1))
	got := mustCall(t, "hashMapGet", m, value.String("k"))
	if p, ok := got.OptionPayload(); !ok || !value.Equal(p, value.Number(1)) {
		t.Errorf("hashMapGet = %s, want Some(1)", got.Inspect())
	}
	if !mustCall(t, "hashMapGet", m, value.String("missing")).IsNone() {
		t.Error("missing key should be None")
	}
	_, err := call(t, NewContext(AllowAll(), nil), "hashMapPut", m, value.NewArray(nil), value.Null())
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("array key err = %v, want ErrTypeMismatch", err)
	}
}

func TestUnwrap(t *testing.T) {
	if n, _ := mustCall(t, "unwrap", value.Ok(value.Number(3))).AsNumber(); n != 3 {
		t.Errorf("unwrap(Ok(3)) = %v", n)
	}
	if _, err := call(t, NewContext(AllowAll(), nil), "unwrap", value.None()); err == nil {
		t.Error("unwrap(None) should fail")
	}
	if n, _ := mustCall(t, "unwrapOr", value.Err(value.String("x")), value.Number(7)).AsNumber(); n != 7 {
		t.Errorf("unwrapOr(Err, 7) = %v", n)
	}
}

func TestRegexBuiltins(t *testing.T) {
	res := mustCall(t, "regexNew", value.String(`(\w+)@(\w+)`))
	re, ok := res.ResultPayload()
	if !ok {
		t.Fatalf("regexNew = %s, want Ok", res.Inspect())
	}
	if b, _ := mustCall(t, "regexTest", re, value.String("mail bob@host")).AsBool(); !b {
		t.Error("regexTest should match")
	}
	found := mustCall(t, "regexFind", re, value.String("mail bob@host"))
	m, ok := found.OptionPayload()
	if !ok {
		t.Fatalf("regexFind = %s, want Some", found.Inspect())
	}
	text, _ := m.AsMap().Get(value.String("text"))
	if s, _ := text.AsString(); s != "bob@host" {
		t.Errorf("match text = %q", s)
	}
	start, _ := m.AsMap().Get(value.String("start"))
	if n, _ := start.AsNumber(); n != 5 {
		t.Errorf("match start = %v, want 5", n)
	}

	bad := mustCall(t, "regexNew", value.String("("))
	if !bad.IsErr() {
		t.Errorf("invalid pattern = %s, want Err", bad.Inspect())
	}
}

func TestConstants(t *testing.T) {
	if _, ok := Constant("PI"); !ok {
		t.Error("PI should resolve")
	}
	if _, ok := Constant("INFINITY"); ok {
		t.Error("non-finite constants are not provided")
	}
}
