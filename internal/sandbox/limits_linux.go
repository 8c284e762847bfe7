//go:build linux

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyLimits caps the running process pid. A process that already exited
// is left alone.
func applyLimits(pid int, l Limits) error {
	err := setLimits(pid, l)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func setLimits(pid int, l Limits) error {
	if l.MemoryBytes > 0 {
		base, err := addressSpace(pid)
		if err != nil {
			return fmt.Errorf("read address space of %d: %w", pid, err)
		}
		as := base + l.MemoryBytes
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, &unix.Rlimit{Cur: as, Max: as}, nil); err != nil {
			return fmt.Errorf("limit memory of %d: %w", pid, err)
		}
	}
	if l.CPUSeconds > 0 {
		// SIGXCPU at the soft limit, SIGKILL a second later
		lim := &unix.Rlimit{Cur: l.CPUSeconds, Max: l.CPUSeconds + 1}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, lim, nil); err != nil {
			return fmt.Errorf("limit cpu of %d: %w", pid, err)
		}
	}
	return nil
}

// addressSpace returns the virtual memory size of pid in bytes.
func addressSpace(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.New("empty statm")
	}
	pages, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, err
	}
	return pages * uint64(os.Getpagesize()), nil
}

// limitReason names the limit a child died of, if any.
func limitReason(ps *os.ProcessState, stderr string) (string, bool) {
	if isOutOfMemory(stderr) {
		return "memory limit exceeded", true
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		switch ws.Signal() {
		case syscall.SIGXCPU:
			return "cpu limit exceeded", true
		case syscall.SIGKILL:
			return "killed: resource limit exceeded", true
		}
	}
	return "", false
}
