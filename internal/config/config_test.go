package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fixloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
llm:
  provider: ollama
  model: qwen2.5:7b-instruct-q4_0
sandbox:
  kind: process
  interpreter: /usr/bin/python3
  timeout: 2s
  max_memory_bytes: 1048576
checkpoints:
  backend: sqlite
  sqlite_path: /tmp/x.db
rag:
  top_k: 2
`), 0o600))

	cfg, err := load(path, envMap(map[string]string{
		"FIXLOOP_LOG_FORMAT":         "json",
		"FIXLOOP_WORKER_CONCURRENCY": "8",
		"FIXLOOP_REPAIR_TIMEOUT":     "30s",
	}))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "json", cfg.LogFormat)
	require.Equal(t, "ollama", cfg.LLM.Provider)
	require.Equal(t, "qwen2.5:7b-instruct-q4_0", cfg.LLM.Model)
	require.Equal(t, 2*time.Second, cfg.Sandbox.Timeout)
	require.Equal(t, "python", cfg.Sandbox.Language())
	require.Equal(t, uint64(1<<20), cfg.Sandbox.MaxMemoryBytes)
	require.False(t, cfg.Sandbox.InProcess)
	require.Equal(t, BackendSQLite, cfg.Checkpoints.Backend)
	require.Equal(t, 2, cfg.RAG.TopK)
	// untouched keys keep their defaults
	require.Equal(t, 500, cfg.RAG.ChunkSize)
	require.Equal(t, 8, cfg.Worker.Concurrency)
	require.Equal(t, 30*time.Second, cfg.Repair.Timeout)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil))
	require.ErrorContains(t, err, "failed to read config")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log_level: ["), 0o600))
	_, err = load(bad, envMap(nil))
	require.ErrorContains(t, err, "failed to parse")

	_, err = load("", envMap(map[string]string{"FIXLOOP_REPAIR_MAX_STEPS": "many"}))
	require.ErrorContains(t, err, "FIXLOOP_REPAIR_MAX_STEPS")

	_, err = load("", envMap(map[string]string{
		"FIXLOOP_SANDBOX_KIND":        "docker",
		"FIXLOOP_CHECKPOINTS_BACKEND": "etcd",
	}))
	require.ErrorContains(t, err, "sandbox.kind")
	require.ErrorContains(t, err, "checkpoints.backend")
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "lua", SandboxConfig{Kind: SandboxLua}.Language())
	require.Equal(t, "python", SandboxConfig{Kind: SandboxProcess, Interpreter: "python3.12"}.Language())
	require.Equal(t, "node", SandboxConfig{Kind: SandboxProcess, Interpreter: "/usr/local/bin/node"}.Language())
}
