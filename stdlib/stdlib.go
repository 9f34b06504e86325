// Package stdlib provides the native builtin functions reachable from
// Atlas code through builtin markers, and the capability policy that
// guards them.
//
// The VM resolves a name with Lookup and calls the builtin with the
// Context it was configured with. It never inspects the Context itself;
// capability checks happen here.
package stdlib

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/atlas-lang/atlas/pkg/value"
)

// Error classes returned by builtins. The VM maps them onto its own
// runtime error kinds.
var (
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrOutOfBounds    = errors.New("out of bounds")
	ErrInvalidNumeric = errors.New("invalid numeric result")
)

// Func is the signature of a builtin.
type Func func(ctx *Context, args []value.Value) (value.Value, error)

// Builtin is a named native function. Arity < 0 accepts any argument count.
type Builtin struct {
	Name  string
	Arity int
	Fn    Func
}

// Context is the opaque environment passed to every builtin and extern call.
type Context struct {
	Security Security
	Stdout   io.Writer
}

// NewContext creates a context. A nil security policy denies everything;
// a nil writer means os.Stdout.
func NewContext(sec Security, out io.Writer) *Context {
	if sec == nil {
		sec = DenyAll()
	}
	if out == nil {
		out = os.Stdout
	}
	return &Context{Security: sec, Stdout: out}
}

// Require checks a capability against the context's policy.
func (c *Context) Require(capability Capability) error {
	if c == nil || c.Security == nil {
		return fmt.Errorf("%w: %s (no security context)", ErrPermissionDenied, capability)
	}
	return c.Security.Check(capability)
}

var registry = make(map[string]*Builtin)

func register(name string, arity int, fn Func) {
	if _, dup := registry[name]; dup {
		panic("stdlib: duplicate builtin " + name)
	}
	registry[name] = &Builtin{Name: name, Arity: arity, Fn: fn}
}

// Lookup finds a builtin by name.
func Lookup(name string) (*Builtin, bool) {
	b, ok := registry[name]
	return b, ok
}

// IsBuiltin reports whether name is a registered builtin.
func IsBuiltin(name string) bool {
	_, ok := registry[name]
	return ok
}

// Names returns all builtin names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a builtin after checking its arity.
func (b *Builtin) Call(ctx *Context, args []value.Value) (value.Value, error) {
	if b.Arity >= 0 && len(args) != b.Arity {
		return value.Null(), fmt.Errorf("%w: %s expects %d arguments, got %d",
			ErrTypeMismatch, b.Name, b.Arity, len(args))
	}
	return b.Fn(ctx, args)
}

var constants = map[string]float64{
	"PI":    math.Pi,
	"E":     math.E,
	"TAU":   2 * math.Pi,
	"SQRT2": math.Sqrt2,
	"LN2":   math.Ln2,
	"LN10":  math.Ln10,
}

// Constant resolves a well-known math constant.
func Constant(name string) (value.Value, bool) {
	n, ok := constants[name]
	if !ok {
		return value.Null(), false
	}
	return value.Number(n), true
}

func typeErr(name string, i int, want string, got value.Value) error {
	return fmt.Errorf("%w: %s argument %d must be %s, got %s", ErrTypeMismatch, name, i+1, want, got.TypeName())
}

func argNumber(name string, args []value.Value, i int) (float64, error) {
	n, ok := args[i].AsNumber()
	if !ok {
		return 0, typeErr(name, i, "a number", args[i])
	}
	return n, nil
}

func argInt(name string, args []value.Value, i int) (int, error) {
	n, err := argNumber(name, args, i)
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %s argument %d must be an integer, got %s",
			ErrTypeMismatch, name, i+1, value.FormatNumber(n))
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s argument %d is out of range: %s",
			ErrOutOfBounds, name, i+1, value.FormatNumber(n))
	}
	return int(n), nil
}

func argString(name string, args []value.Value, i int) (string, error) {
	s, ok := args[i].AsString()
	if !ok {
		return "", typeErr(name, i, "a string", args[i])
	}
	return s, nil
}

func argArray(name string, args []value.Value, i int) (*value.Array, error) {
	a := args[i].AsArray()
	if a == nil {
		return nil, typeErr(name, i, "an array", args[i])
	}
	return a, nil
}

func finite(name string, n float64) (value.Value, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return value.Null(), fmt.Errorf("%w: %s produced %v", ErrInvalidNumeric, name, n)
	}
	return value.Number(n), nil
}
