package bytecode

import "fmt"

// Span is a source range attached to an instruction for diagnostics.
// Start and End are byte offsets into the source; Line and Column are
// 1-based. The zero Span means "no span".
type Span struct {
	Start  uint32
	End    uint32
	Line   uint32
	Column uint32
}

// NoSpan is the sentinel used when no debug information is available.
var NoSpan = Span{}

// IsZero reports whether s is the no-span sentinel.
func (s Span) IsZero() bool { return s == NoSpan }

func (s Span) String() string {
	if s.IsZero() {
		return "<no span>"
	}
	return fmt.Sprintf("%d:%d", s.Line, s.Column)
}

// DebugSpan maps an instruction offset to its source span.
type DebugSpan struct {
	Offset uint32
	Span   Span
}
