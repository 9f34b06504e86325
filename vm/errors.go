package vm

import (
	"errors"
	"fmt"

	"github.com/atlas-lang/atlas/pkg/bytecode"
)

// ErrorKind classifies a runtime fault.
type ErrorKind uint8

const (
	KindUnknownOpcode ErrorKind = iota
	KindStackUnderflow
	KindUndefinedVariable
	KindTypeError
	KindDivideByZero
	KindInvalidNumericResult
	KindInvalidIndex
	KindOutOfBounds
	KindUnknownFunction
	KindPermissionDenied
	KindStackOverflow
)

// Sentinels for errors.Is. A *RuntimeError matches the sentinel of its Kind.
var (
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrUndefinedVariable    = errors.New("undefined variable")
	ErrTypeError            = errors.New("type error")
	ErrDivideByZero         = errors.New("divide by zero")
	ErrInvalidNumericResult = errors.New("invalid numeric result")
	ErrInvalidIndex         = errors.New("invalid index")
	ErrOutOfBounds          = errors.New("out of bounds")
	ErrUnknownFunction      = errors.New("unknown function")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrStackOverflow        = errors.New("stack overflow")
)

var kindSentinels = [...]error{
	KindUnknownOpcode:        ErrUnknownOpcode,
	KindStackUnderflow:       ErrStackUnderflow,
	KindUndefinedVariable:    ErrUndefinedVariable,
	KindTypeError:            ErrTypeError,
	KindDivideByZero:         ErrDivideByZero,
	KindInvalidNumericResult: ErrInvalidNumericResult,
	KindInvalidIndex:         ErrInvalidIndex,
	KindOutOfBounds:          ErrOutOfBounds,
	KindUnknownFunction:      ErrUnknownFunction,
	KindPermissionDenied:     ErrPermissionDenied,
	KindStackOverflow:        ErrStackOverflow,
}

func (k ErrorKind) String() string {
	if int(k) < len(kindSentinels) {
		return kindSentinels[k].Error()
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// RuntimeError is a fault raised while executing bytecode. Span is the
// best available source location of the failing instruction, or
// bytecode.NoSpan when the unit carries no debug info.
type RuntimeError struct {
	Kind    ErrorKind
	Message string
	Span    bytecode.Span
	IP      int
	Cause   error
}

func (e *RuntimeError) Error() string {
	if e.Span.IsZero() {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Span, e.Kind, e.Message)
}

// Is matches the sentinel for the error's kind.
func (e *RuntimeError) Is(target error) bool {
	return int(e.Kind) < len(kindSentinels) && kindSentinels[e.Kind] == target
}

// Unwrap exposes the original error, if any.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// fault builds a RuntimeError for the instruction currently executing.
func (vm *VM) fault(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Span:    vm.bc.SpanForOffset(vm.opIP),
		IP:      vm.opIP,
	}
}

// wrapFault converts an error from native code into a RuntimeError,
// keeping RuntimeErrors raised by nested execution as they are.
func (vm *VM) wrapFault(kind ErrorKind, err error) error {
	var rt *RuntimeError
	if errors.As(err, &rt) {
		return err
	}
	f := vm.fault(kind, "%v", err)
	f.Cause = err
	return f
}
