package sandbox

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The isolated runner starts this test binary again as its child.
func TestMain(m *testing.M) {
	if IsChild() {
		os.Exit(ServeChild())
	}
	os.Exit(m.Run())
}

func TestLuaRunner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    string
		ok     bool
		reason string
		output string
	}{
		{name: "success with output", src: `print("hello", 1 + 2)`, ok: true, output: "hello\t3\n"},
		{name: "empty program", src: "", ok: true},
		{name: "runtime error", src: `error("boom")`, reason: "boom"},
		{name: "syntax error", src: `broken_code_here(`},
		{name: "call nil", src: `broken_code_here()`, reason: "attempt to call a non-function object"},
		{name: "no io library", src: `io.write("x")`, reason: "attempt to index a non-table object"},
		{name: "no os library", src: `os.exit(1)`, reason: "attempt to index a non-table object"},
		{name: "no load", src: `load("return 1")()`, reason: "attempt to call a non-function object"},
		{name: "no random", src: `math.random()`, reason: "attempt to call a non-function object"},
		{name: "huge string.rep", src: `local s = string.rep("x", 1024*1024*1024)`, reason: "string.rep result larger than"},
		{name: "huge rep method", src: `local s = ("ab"):rep(100*1024*1024)`, reason: "string.rep result larger than"},
		{name: "small rep", src: `print(string.rep("ab", 3), string.rep("x", 0))`, ok: true, output: "ababab\t\n"},
	}

	runner := NewLuaRunner(WithLuaTimeout(2 * time.Second))
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := runner.Run(context.Background(), tc.src)
			require.NoError(t, err)
			require.Equal(t, tc.ok, out.OK(), out.Reason)
			if tc.reason != "" {
				require.Contains(t, out.Reason, tc.reason)
			}
			if tc.output != "" {
				require.Equal(t, tc.output, out.Output)
			}
		})
	}
}

func TestLuaRunnerTimeout(t *testing.T) {
	t.Parallel()
	runner := NewLuaRunner(WithLuaTimeout(100 * time.Millisecond))

	out, err := runner.Run(context.Background(), `while true do end`)
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "timed out")
}

func TestLuaRunnerOutputIsBounded(t *testing.T) {
	t.Parallel()
	runner := NewLuaRunner(WithLuaMaxOutput(16))

	out, err := runner.Run(context.Background(), `for i = 1, 100 do print("line", i) end`)
	require.NoError(t, err)
	require.True(t, out.OK())
	require.True(t, strings.HasSuffix(out.Output, "[output truncated]"))
	require.LessOrEqual(t, len(out.Output), 16+len("\n[output truncated]"))
}

func TestLuaRunnerCancelledCaller(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLuaRunner().Run(ctx, `print("x")`)
	require.ErrorIs(t, err, context.Canceled)
}

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestProcessRunner(t *testing.T) {
	t.Parallel()
	sh := requireShell(t)
	runner := NewProcessRunner(sh, WithFileName("main.sh"), WithProcessTimeout(2*time.Second))

	out, err := runner.Run(context.Background(), "echo ok")
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Equal(t, "ok\n", out.Output)

	out, err = runner.Run(context.Background(), "echo 'bad thing' >&2; exit 3")
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Equal(t, "bad thing", out.Reason)

	out, err = runner.Run(context.Background(), "exit 4")
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "exit status 4")

	// environment is scrubbed and HOME points into the sandbox dir
	out, err = runner.Run(context.Background(), `printf "%s|%s" "$HOME" "$USER"`)
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Contains(t, out.Output, "fixloop-sandbox-")
	require.True(t, strings.HasSuffix(out.Output, "|"))
}

func TestProcessRunnerTimeout(t *testing.T) {
	t.Parallel()
	sh := requireShell(t)
	runner := NewProcessRunner(sh, WithProcessTimeout(100*time.Millisecond))

	out, err := runner.Run(context.Background(), "while :; do :; done")
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "timed out")
}

func TestProcessRunnerMissingInterpreter(t *testing.T) {
	t.Parallel()
	runner := NewProcessRunner("fixloop-no-such-interpreter")

	_, err := runner.Run(context.Background(), "print(1)")
	require.Error(t, err)
	require.ErrorIs(t, err, exec.ErrNotFound)
}

const memoryBomb = `local s = string.rep("x", 1024*1024)
for i = 1, 40 do s = s .. s end
print(#s)`

func TestIsolatedLuaRunner(t *testing.T) {
	t.Parallel()
	runner := NewIsolatedLuaRunner(WithIsolatedTimeout(2 * time.Second))

	out, err := runner.Run(context.Background(), `print("hello", 1 + 2)`)
	require.NoError(t, err)
	require.True(t, out.OK(), out.Reason)
	require.Equal(t, "hello\t3\n", out.Output)

	out, err = runner.Run(context.Background(), `error("boom")`)
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "boom")

	out, err = runner.Run(context.Background(), `local s = string.rep("x", 1024*1024*1024); s = s .. s; s = s .. s`)
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "string.rep result larger than")
}

func TestIsolatedLuaRunnerTimeout(t *testing.T) {
	t.Parallel()
	runner := NewIsolatedLuaRunner(WithIsolatedTimeout(200 * time.Millisecond))

	out, err := runner.Run(context.Background(), `while true do end`)
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "timed out")
}

func TestIsolatedLuaRunnerSurvivesMemoryBomb(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" {
		t.Skip("memory limits need prlimit")
	}
	runner := NewIsolatedLuaRunner(
		WithIsolatedTimeout(20*time.Second),
		WithIsolatedLimits(Limits{MemoryBytes: 256 << 20}),
	)

	out, err := runner.Run(context.Background(), memoryBomb)
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Equal(t, "memory limit exceeded", out.Reason)

	// the runner stays usable
	out, err = runner.Run(context.Background(), `print("still here")`)
	require.NoError(t, err)
	require.True(t, out.OK(), out.Reason)
	require.Equal(t, "still here\n", out.Output)
}

func TestIsolatedLuaRunnerCancelledCaller(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIsolatedLuaRunner().Run(ctx, `print("x")`)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsolatedLuaRunnerBadExecutable(t *testing.T) {
	t.Parallel()
	silent, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}

	_, err = NewIsolatedLuaRunner(WithExecutable(silent)).Run(context.Background(), `print("x")`)
	require.ErrorContains(t, err, "sandbox child did not start")

	_, err = NewIsolatedLuaRunner(WithExecutable("/nonexistent/fixloop")).Run(context.Background(), `print("x")`)
	require.ErrorContains(t, err, "failed to start sandbox child")
}

func TestProcessRunnerMemoryLimit(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" {
		t.Skip("memory limits need prlimit")
	}
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	runner := NewProcessRunner(python,
		WithFileName("main.py"),
		WithProcessTimeout(20*time.Second),
		WithProcessLimits(Limits{MemoryBytes: 256 << 20}),
	)

	out, err := runner.Run(context.Background(), "s = 'x' * (1 << 20)\nwhile True:\n    s = s + s\n")
	require.NoError(t, err)
	require.False(t, out.OK())
	require.Contains(t, out.Reason, "MemoryError")
}

func TestLimitsCPUFollowsTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(6), DefaultLimits().withTimeout(5*time.Second).CPUSeconds)
	require.Equal(t, uint64(2), Limits{}.withTimeout(300*time.Millisecond).CPUSeconds)
	require.Equal(t, uint64(9), Limits{CPUSeconds: 9}.withTimeout(time.Second).CPUSeconds)
	require.Equal(t, uint64(DefaultMemoryBytes), DefaultLimits().MemoryBytes)
}
