package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ProcessRunner executes candidate programs as a separate interpreter
// process: `<interpreter> [args...] <file>`. The program runs in a fresh
// temporary directory with an environment reduced to PATH, under a timeout
// and resource Limits, and with stdout/stderr capped.
type ProcessRunner struct {
	interpreter string
	args        []string
	fileName    string
	timeout     time.Duration
	maxOutput   int
	limits      Limits
}

type ProcessOption func(*ProcessRunner)

// WithArgs sets interpreter flags placed before the program file.
func WithArgs(args ...string) ProcessOption {
	return func(r *ProcessRunner) {
		r.args = args
	}
}

// WithFileName sets the name the program is written under, e.g. main.py.
func WithFileName(name string) ProcessOption {
	return func(r *ProcessRunner) {
		r.fileName = name
	}
}

func WithProcessTimeout(d time.Duration) ProcessOption {
	return func(r *ProcessRunner) {
		r.timeout = d
	}
}

func WithProcessMaxOutput(n int) ProcessOption {
	return func(r *ProcessRunner) {
		r.maxOutput = n
	}
}

// WithProcessLimits replaces DefaultLimits.
func WithProcessLimits(l Limits) ProcessOption {
	return func(r *ProcessRunner) {
		r.limits = l
	}
}

func NewProcessRunner(interpreter string, opts ...ProcessOption) *ProcessRunner {
	r := &ProcessRunner{
		interpreter: interpreter,
		fileName:    "main",
		timeout:     DefaultTimeout,
		maxOutput:   DefaultMaxOutputBytes,
		limits:      DefaultLimits(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *ProcessRunner) Run(ctx context.Context, source string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	dir, err := os.MkdirTemp("", "fixloop-sandbox-*")
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, r.fileName)
	if err := os.WriteFile(file, []byte(source), 0o600); err != nil {
		return Outcome{}, fmt.Errorf("failed to write program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := append(append([]string{}, r.args...), file)
	cmd := exec.CommandContext(runCtx, r.interpreter, args...)
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir, "TMPDIR=" + dir}
	cmd.WaitDelay = time.Second

	stdout := newLimitedBuffer(r.maxOutput)
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		// interpreter missing, not executable, ...
		return Outcome{}, fmt.Errorf("failed to start %s: %w", r.interpreter, err)
	}
	if err := applyLimits(cmd.Process.Pid, r.limits.withTimeout(r.timeout)); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return Outcome{}, err
	}
	err = cmd.Wait()
	elapsed := time.Since(started)

	var outcome Outcome
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome = Success(stdout.String())
	case ctx.Err() != nil:
		return Outcome{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = Failure(fmt.Sprintf("timed out after %s", r.timeout), stdout.String())
	case errors.As(err, &exitErr):
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = exitErr.Error()
			if limit, ok := limitReason(exitErr.ProcessState, ""); ok {
				reason = limit
			}
		}
		outcome = Failure(reason, stdout.String())
	default:
		return Outcome{}, fmt.Errorf("failed to wait for %s: %w", r.interpreter, err)
	}
	outcome.Duration = elapsed
	return outcome, nil
}
