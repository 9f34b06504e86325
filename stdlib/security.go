package stdlib

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrPermissionDenied is returned when a capability is not granted.
var ErrPermissionDenied = errors.New("permission denied")

// Capability names a privileged operation class.
type Capability string

const (
	CapIO  Capability = "io"  // console output
	CapFFI Capability = "ffi" // extern calls into host libraries
)

// Security decides whether a capability is granted.
type Security interface {
	Check(capability Capability) error
}

// Policy is a fixed capability allow-list.
type Policy struct {
	all     bool
	allowed map[Capability]bool
}

// NewPolicy grants the named capabilities. "*" grants everything.
func NewPolicy(capabilities ...string) *Policy {
	p := &Policy{allowed: make(map[Capability]bool)}
	for _, c := range capabilities {
		c = strings.TrimSpace(c)
		if c == "*" {
			p.all = true
			continue
		}
		if c != "" {
			p.allowed[Capability(c)] = true
		}
	}
	return p
}

// AllowAll grants every capability.
func AllowAll() *Policy { return &Policy{all: true, allowed: map[Capability]bool{}} }

// DenyAll grants nothing.
func DenyAll() *Policy { return NewPolicy() }

// Check implements Security.
func (p *Policy) Check(capability Capability) error {
	if p.all || p.allowed[capability] {
		return nil
	}
	return fmt.Errorf("%w: capability %q not granted", ErrPermissionDenied, capability)
}

func (p *Policy) String() string {
	if p.all {
		return "*"
	}
	caps := make([]string, 0, len(p.allowed))
	for c := range p.allowed {
		caps = append(caps, string(c))
	}
	sort.Strings(caps)
	return strings.Join(caps, ",")
}
