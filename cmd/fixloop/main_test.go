package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avi3tal/fixloop/internal/sandbox"
)

func TestMain(m *testing.M) {
	if sandbox.IsChild() {
		os.Exit(sandbox.ServeChild())
	}
	os.Exit(m.Run())
}

// The commands share rootCmd, so these tests do not run in parallel.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig points fixloop at a scripted model and a sqlite checkpoint
// file in a temp dir.
func writeConfig(t *testing.T, replies ...string) (cfgPath, dir string) {
	t.Helper()
	dir = t.TempDir()

	var script strings.Builder
	for _, r := range replies {
		fmt.Fprintf(&script, "    - %q\n", r)
	}
	cfg := fmt.Sprintf(`log_level: error
llm:
  provider: scripted
  max_retries: 0
  script:
%ssandbox:
  max_memory_bytes: 268435456
checkpoints:
  backend: sqlite
  sqlite_path: %s
`, script.String(), filepath.Join(dir, "checkpoints.db"))

	cfgPath = filepath.Join(dir, "fixloop.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath, dir
}

func writeProgram(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "prog.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func TestRepairCommandFixesProgram(t *testing.T) {
	cfgPath, dir := writeConfig(t, "x is nil, so indexing it fails.", `print("fixed")`)
	prog := writeProgram(t, dir, "local x = nil\nprint(x.y)")
	fixed := filepath.Join(dir, "fixed.lua")

	out, err := execute(t, "repair", "--config", cfgPath, "-f", prog,
		"-e", "attempt to index a nil value", "--thread", "cli-fixed", "-o", fixed)
	require.NoError(t, err)
	require.Contains(t, out, "=== EXECUTION LOG ===")
	require.Contains(t, out, "Success!")
	require.Contains(t, out, "explain → fix → execute")
	require.Contains(t, out, "Final code:\nprint(\"fixed\")")

	data, err := os.ReadFile(fixed)
	require.NoError(t, err)
	require.Equal(t, `print("fixed")`, string(data))

	out, err = execute(t, "inspect", "--config", cfgPath, "cli-fixed")
	require.NoError(t, err)
	require.Contains(t, out, "Thread:  cli-fixed")
	require.Contains(t, out, "Status:  completed")
	require.Contains(t, out, "explain → fix → execute")

	out, err = execute(t, "inspect", "--config", cfgPath, "--history", "cli-fixed")
	require.NoError(t, err)
	require.Contains(t, out, "completed")
	require.Contains(t, out, "execute")
	require.Greater(t, strings.Count(out, "\n"), 1)
}

func TestRepairCommandGivesUpAfterRetry(t *testing.T) {
	cfgPath, dir := writeConfig(t,
		"first explanation", `error("still broken")`,
		"second explanation", `error("broken again")`,
	)
	prog := writeProgram(t, dir, `error("broken")`)

	out, err := execute(t, "repair", "--config", cfgPath, "-f", prog, "-e", "broken", "--thread", "cli-exhausted", "-o", "")
	require.ErrorIs(t, err, errNotFixed)
	require.Contains(t, out, "explain → fix → execute → explain → fix → execute")
	require.Contains(t, out, "broken again")
}

func TestRepairCommandSkipsWorkingProgram(t *testing.T) {
	cfgPath, dir := writeConfig(t)
	prog := writeProgram(t, dir, `print("fine")`)

	out, err := execute(t, "repair", "--config", cfgPath, "-f", prog, "-e", "", "--thread", "")
	require.NoError(t, err)
	require.Contains(t, out, "nothing to repair")
}

func TestInspectUnknownThread(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := execute(t, "inspect", "--config", cfgPath, "no-such-thread")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no-such-thread")
}

func TestGraphCommand(t *testing.T) {
	out, err := execute(t, "graph", "--mermaid")
	require.NoError(t, err)
	require.Contains(t, out, "START --> explain")
	require.Contains(t, out, "execute -.-> explain")
	require.Contains(t, out, "execute -.-> END")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Equal(t, "fixloop version dev\n", out)
}

func TestRepairCommandContainsMemoryBomb(t *testing.T) {
	cfgPath, dir := writeConfig(t,
		"s doubles until memory runs out.", `print("small")`,
	)
	prog := writeProgram(t, dir, "local s = string.rep(\"x\", 1024*1024)\nfor i = 1, 40 do s = s .. s end")

	// no --error: the program is executed first and its failure is repaired
	out, err := execute(t, "repair", "--config", cfgPath, "-f", prog, "-e", "", "--thread", "cli-bomb", "-o", "")
	require.NoError(t, err)
	require.Contains(t, out, "Success!")
	require.Contains(t, out, "Final code:\nprint(\"small\")")
}
