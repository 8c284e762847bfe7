//go:build !linux

package sandbox

import "os"

func applyLimits(int, Limits) error {
	return nil
}

func limitReason(_ *os.ProcessState, stderr string) (string, bool) {
	if isOutOfMemory(stderr) {
		return "memory limit exceeded", true
	}
	return "", false
}
