package vm

import (
	"fmt"
	"math"
	"sync"

	"github.com/atlas-lang/atlas/pkg/bytecode"
	"github.com/atlas-lang/atlas/pkg/value"
	"github.com/atlas-lang/atlas/stdlib"
)

// ---------------------------------------------------------------------------
// Extern declarations
// ---------------------------------------------------------------------------

// CType is the C ABI tag of an extern parameter or return value.
type CType uint8

const (
	CVoid CType = iota
	CInt
	CDouble
	CString
	CBool
)

var ctypeNames = [...]string{
	CVoid:   "void",
	CInt:    "int",
	CDouble: "double",
	CString: "char*",
	CBool:   "bool",
}

func (t CType) String() string {
	if int(t) < len(ctypeNames) {
		return ctypeNames[t]
	}
	return fmt.Sprintf("CType(%d)", t)
}

// ParseCType parses a C type tag as written in declarations.
func ParseCType(s string) (CType, error) {
	for t, name := range ctypeNames {
		if name == s {
			return CType(t), nil
		}
	}
	return CVoid, fmt.Errorf("unknown C type %q", s)
}

// ExternDecl declares a host function callable from Atlas as Name.
type ExternDecl struct {
	Name    string
	Library string
	Symbol  string
	Params  []CType
	Return  CType
}

// HostFunc is a resolved extern. Arguments arrive marshaled per the
// declaration: int32, float64, string or bool. The result must match the
// declared return type (any integer type is accepted for int; nil for void).
type HostFunc func(ctx *stdlib.Context, args []any) (any, error)

// ExternLoader resolves declarations to callables.
type ExternLoader interface {
	Load(decl ExternDecl) (HostFunc, error)
}

// ---------------------------------------------------------------------------
// HostLibraries: a loader over functions registered from Go
// ---------------------------------------------------------------------------

// HostLibraries resolves externs against symbols registered in-process.
// Every resolved function requires the ffi capability when called.
type HostLibraries struct {
	mu   sync.RWMutex
	libs map[string]map[string]HostFunc
}

// NewHostLibraries creates an empty registry.
func NewHostLibraries() *HostLibraries {
	return &HostLibraries{libs: make(map[string]map[string]HostFunc)}
}

// Register makes symbol in library resolvable.
func (h *HostLibraries) Register(library, symbol string, fn HostFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	syms, ok := h.libs[library]
	if !ok {
		syms = make(map[string]HostFunc)
		h.libs[library] = syms
	}
	syms[symbol] = fn
}

// Load implements ExternLoader.
func (h *HostLibraries) Load(decl ExternDecl) (HostFunc, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	syms, ok := h.libs[decl.Library]
	if !ok {
		return nil, fmt.Errorf("library %q not found", decl.Library)
	}
	fn, ok := syms[decl.Symbol]
	if !ok {
		return nil, fmt.Errorf("symbol %q not found in %q", decl.Symbol, decl.Library)
	}
	return func(ctx *stdlib.Context, args []any) (any, error) {
		if err := ctx.Require(stdlib.CapFFI); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}, nil
}

// ---------------------------------------------------------------------------
// Loading and calling
// ---------------------------------------------------------------------------

type extern struct {
	decl ExternDecl
	fn   HostFunc
}

// LoadExterns resolves decls through loader and makes each callable by
// name. Resolution failures are type errors; externs loaded before the
// failure stay registered.
func (vm *VM) LoadExterns(loader ExternLoader, decls []ExternDecl) error {
	for _, d := range decls {
		if err := validateDecl(d); err != nil {
			return externError(d, err)
		}
		fn, err := loader.Load(d)
		if err != nil {
			return externError(d, err)
		}
		vm.externs[d.Name] = &extern{decl: d, fn: fn}
		log.Debugf("extern %s bound to %s:%s", d.Name, d.Library, d.Symbol)
	}
	return nil
}

func validateDecl(d ExternDecl) error {
	if d.Name == "" {
		return fmt.Errorf("missing name")
	}
	for i, p := range d.Params {
		if p == CVoid {
			return fmt.Errorf("parameter %d cannot be void", i+1)
		}
	}
	return nil
}

func externError(d ExternDecl, err error) *RuntimeError {
	return &RuntimeError{
		Kind:    KindTypeError,
		Message: fmt.Sprintf("extern %s: %v", d.Name, err),
		Span:    bytecode.NoSpan,
		IP:      -1,
		Cause:   err,
	}
}

func (e *extern) call(ctx *stdlib.Context, args []value.Value) (value.Value, error) {
	d := e.decl
	if len(args) != len(d.Params) {
		return value.Null(), fmt.Errorf("%w: %s expects %d arguments, got %d",
			stdlib.ErrTypeMismatch, d.Name, len(d.Params), len(args))
	}
	in := make([]any, len(args))
	for i, a := range args {
		v, err := marshalArg(d.Params[i], a)
		if err != nil {
			return value.Null(), fmt.Errorf("%w: %s argument %d: %v", stdlib.ErrTypeMismatch, d.Name, i+1, err)
		}
		in[i] = v
	}
	out, err := e.fn(ctx, in)
	if err != nil {
		return value.Null(), err
	}
	return unmarshalResult(d, out)
}

func marshalArg(t CType, v value.Value) (any, error) {
	switch t {
	case CInt:
		n, ok := v.AsNumber()
		if !ok || n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("expected int, got %s", v.Inspect())
		}
		return int32(n), nil
	case CDouble:
		n, ok := v.AsNumber()
		if !ok {
			return nil, fmt.Errorf("expected double, got %s", v.TypeName())
		}
		return n, nil
	case CString:
		s, ok := v.AsString()
		if !ok {
			return nil, fmt.Errorf("expected char*, got %s", v.TypeName())
		}
		return s, nil
	case CBool:
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("expected bool, got %s", v.TypeName())
		}
		return b, nil
	}
	return nil, fmt.Errorf("cannot pass %s", t)
}

func unmarshalResult(d ExternDecl, out any) (value.Value, error) {
	mismatch := func() (value.Value, error) {
		return value.Null(), fmt.Errorf("%w: extern %s returned %T, declared %s",
			stdlib.ErrTypeMismatch, d.Name, out, d.Return)
	}
	switch d.Return {
	case CVoid:
		return value.Null(), nil
	case CInt:
		switch n := out.(type) {
		case int32:
			return value.Number(float64(n)), nil
		case int:
			return value.Number(float64(n)), nil
		case int64:
			return value.Number(float64(n)), nil
		}
	case CDouble:
		if n, ok := out.(float64); ok {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return value.Null(), fmt.Errorf("%w: extern %s returned %v", stdlib.ErrInvalidNumeric, d.Name, n)
			}
			return value.Number(n), nil
		}
	case CString:
		if s, ok := out.(string); ok {
			return value.String(s), nil
		}
	case CBool:
		if b, ok := out.(bool); ok {
			return value.Bool(b), nil
		}
	}
	return mismatch()
}
