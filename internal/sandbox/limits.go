package sandbox

import (
	"math"
	"strings"
	"time"
)

// DefaultMemoryBytes is the address space a sandboxed child may grow by.
const DefaultMemoryBytes = 512 << 20

// Limits caps the resources of a sandboxed child process. They are applied
// with prlimit right after the child starts; other platforms rely on the
// timeout alone.
type Limits struct {
	// MemoryBytes is the address space the child may add to what it had
	// mapped when the limit was applied. Zero leaves memory unbounded.
	MemoryBytes uint64
	// CPUSeconds is the CPU time after which the kernel signals the child.
	// Zero derives it from the run timeout.
	CPUSeconds uint64
}

func DefaultLimits() Limits {
	return Limits{MemoryBytes: DefaultMemoryBytes}
}

func (l Limits) withTimeout(timeout time.Duration) Limits {
	if l.CPUSeconds == 0 {
		l.CPUSeconds = uint64(math.Ceil(timeout.Seconds())) + 1
	}
	return l
}

func isOutOfMemory(stderr string) bool {
	for _, marker := range []string{"out of memory", "cannot allocate memory", "MemoryError"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}
