//go:build !atlas_ownership

package vm

import "github.com/atlas-lang/atlas/pkg/value"

// OwnershipTracking reports whether this build enforces ownership
// annotations.
const OwnershipTracking = false

// ownership is empty in release builds; every hook compiles away.
type ownership struct{}

func (ownership) push()                   {}
func (ownership) truncate(int)            {}
func (ownership) tagLocal(int)            {}
func (ownership) tagGlobal(string)        {}
func (ownership) localWritten(int)        {}
func (ownership) globalWritten(string)    {}
func (ownership) localMoved(int) bool     { return false }
func (ownership) globalMoved(string) bool { return false }

func (ownership) checkCall(*value.FunctionDescriptor, []value.Value, int) (string, []string) {
	return "", nil
}
