package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	childEnv        = "FIXLOOP_SANDBOX_CHILD"
	childTimeoutEnv = "FIXLOOP_SANDBOX_TIMEOUT"
	childOutputEnv  = "FIXLOOP_SANDBOX_MAX_OUTPUT"
	childReady      = "ready"

	// time the child gets on top of the program timeout to start and reply
	childGrace = 2 * time.Second
)

// IsolatedLuaRunner runs each program in the LuaRunner of a child process,
// normally the current executable started again, so that a program that
// exhausts memory or CPU kills the child and not the caller. The child must
// call ServeChild when IsChild reports true.
type IsolatedLuaRunner struct {
	executable string
	timeout    time.Duration
	maxOutput  int
	limits     Limits
}

type IsolatedOption func(*IsolatedLuaRunner)

// WithExecutable sets the binary started as the child. It defaults to
// os.Executable.
func WithExecutable(path string) IsolatedOption {
	return func(r *IsolatedLuaRunner) {
		r.executable = path
	}
}

func WithIsolatedTimeout(d time.Duration) IsolatedOption {
	return func(r *IsolatedLuaRunner) {
		r.timeout = d
	}
}

func WithIsolatedMaxOutput(n int) IsolatedOption {
	return func(r *IsolatedLuaRunner) {
		r.maxOutput = n
	}
}

func WithIsolatedLimits(l Limits) IsolatedOption {
	return func(r *IsolatedLuaRunner) {
		r.limits = l
	}
}

func NewIsolatedLuaRunner(opts ...IsolatedOption) *IsolatedLuaRunner {
	r := &IsolatedLuaRunner{
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutputBytes,
		limits:    DefaultLimits(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IsolatedLuaRunner) Run(ctx context.Context, source string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	exe := r.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return Outcome{}, fmt.Errorf("failed to locate sandbox executable: %w", err)
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout+childGrace)
	defer cancel()

	cmd := exec.CommandContext(runCtx, exe)
	cmd.Env = []string{
		childEnv + "=lua",
		childTimeoutEnv + "=" + r.timeout.String(),
		childOutputEnv + "=" + strconv.Itoa(r.maxOutput),
	}
	cmd.WaitDelay = time.Second
	stderr := newLimitedBuffer(r.maxOutput)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open sandbox stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open sandbox stdout: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to start sandbox child: %w", err)
	}
	abort := func(err error) (Outcome, error) {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
		return Outcome{}, err
	}

	// JSON escaping can grow the captured output several times over
	reply := bufio.NewReader(io.LimitReader(stdout, int64(8*r.maxOutput+4096)))
	line, err := reply.ReadString('\n')
	if err != nil || strings.TrimSpace(line) != childReady {
		return abort(fmt.Errorf("sandbox child did not start: %s", strings.TrimSpace(stderr.String())))
	}

	// the program is only sent once the limits hold
	if err := applyLimits(cmd.Process.Pid, r.limits.withTimeout(r.timeout)); err != nil {
		return abort(err)
	}
	_, _ = io.WriteString(stdin, source)
	_ = stdin.Close()

	data, _ := io.ReadAll(reply)
	err = cmd.Wait()
	elapsed := time.Since(started)

	var outcome Outcome
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &outcome); err != nil {
			return Outcome{}, fmt.Errorf("failed to decode sandbox reply: %w", err)
		}
		return outcome, nil
	case ctx.Err() != nil:
		return Outcome{}, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		outcome = Failure(fmt.Sprintf("timed out after %s", r.timeout), "")
	case errors.As(err, &exitErr):
		reason, ok := limitReason(exitErr.ProcessState, stderr.String())
		if !ok {
			reason = "sandbox child crashed: " + exitErr.Error()
		}
		outcome = Failure(reason, "")
	default:
		return Outcome{}, fmt.Errorf("sandbox child: %w", err)
	}
	outcome.Duration = elapsed
	return outcome, nil
}

// IsChild reports whether this process was started by an IsolatedLuaRunner.
func IsChild() bool {
	return os.Getenv(childEnv) == "lua"
}

// ServeChild runs the program read from stdin in a LuaRunner and writes the
// Outcome to stdout as JSON. It returns the exit code for the process.
func ServeChild() int {
	timeout, err := time.ParseDuration(os.Getenv(childTimeoutEnv))
	if err != nil {
		timeout = DefaultTimeout
	}
	maxOutput, err := strconv.Atoi(os.Getenv(childOutputEnv))
	if err != nil {
		maxOutput = DefaultMaxOutputBytes
	}

	if _, err := fmt.Fprintln(os.Stdout, childReady); err != nil {
		return 2
	}
	src, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read program:", err)
		return 2
	}

	out, err := NewLuaRunner(WithLuaTimeout(timeout), WithLuaMaxOutput(maxOutput)).Run(context.Background(), string(src))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, "write outcome:", err)
		return 2
	}
	return 0
}
