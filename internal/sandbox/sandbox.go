// Package sandbox runs untrusted candidate programs and reports what happened
// as data. A program that fails, panics, loops forever or floods its output
// yields a Failure outcome; only a broken execution facility yields an error.
package sandbox

import (
	"bytes"
	"context"
	"time"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMaxOutputBytes = 64 << 10
)

// Status is the coarse result of running a candidate program.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the captured, bounded result of one run.
type Outcome struct {
	Status   Status        `json:"status"`
	Reason   string        `json:"reason,omitempty"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

func Success(output string) Outcome {
	return Outcome{Status: StatusSuccess, Output: output}
}

func Failure(reason, output string) Outcome {
	return Outcome{Status: StatusFailure, Reason: reason, Output: output}
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Runner executes source text in isolation.
type Runner interface {
	Run(ctx context.Context, source string) (Outcome, error)
}

// limitedBuffer keeps the first max bytes written to it and silently drops
// the rest, so a chatty program cannot exhaust host memory.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	if max <= 0 {
		max = DefaultMaxOutputBytes
	}
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
