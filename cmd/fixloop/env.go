package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"

	"github.com/avi3tal/fixloop/internal/config"
	"github.com/avi3tal/fixloop/internal/llm"
	"github.com/avi3tal/fixloop/internal/logging"
	"github.com/avi3tal/fixloop/internal/metrics"
	"github.com/avi3tal/fixloop/internal/repair"
	"github.com/avi3tal/fixloop/internal/sandbox"
	"github.com/avi3tal/fixloop/pkg/checkpoints"
	"github.com/avi3tal/fixloop/pkg/types"
	"github.com/avi3tal/fixloop/pkg/workflow"
)

// env is what every command builds its collaborators from.
type env struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []io.Closer
}

// newEnv loads the config named by --config, applies the global flags and
// starts the metrics endpoint when an address is set.
func newEnv(cmd *cobra.Command) (*env, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = cmd.Flags().GetString("metrics-addr")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Options{Level: level, Format: cfg.LogFormat})
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	e := &env{cfg: cfg, logger: logger, metrics: m, registry: reg}
	if cfg.Metrics.Addr != "" {
		ctx := cmd.Context()
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
				logger.ErrorContext(ctx, "metrics server failed", "error", err)
			}
		}()
	}
	return e, nil
}

// Close releases stores and clients opened through e.
func (e *env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i].Close())
	}
	return errors.Join(errs...)
}

func (e *env) llmOptions() llm.Options {
	return llm.Options{
		Provider:       e.cfg.LLM.Provider,
		Model:          e.cfg.LLM.Model,
		BaseURL:        e.cfg.LLM.BaseURL,
		APIKey:         e.cfg.LLM.APIKey(),
		EmbeddingModel: e.cfg.LLM.EmbeddingModel,
		MaxRetries:     e.cfg.LLM.MaxRetries,
		Script:         e.cfg.LLM.Script,
		Logger:         e.logger,
	}
}

func (e *env) model() (llms.Model, error) {
	return llm.NewModel(e.llmOptions())
}

// sandbox builds the configured runner. Lua programs run in a child fixloop
// process unless in_process is set.
func (e *env) sandbox() sandbox.Runner {
	sc := e.cfg.Sandbox
	limits := sandbox.Limits{MemoryBytes: sc.MaxMemoryBytes}
	if sc.Kind == config.SandboxProcess {
		opts := []sandbox.ProcessOption{
			sandbox.WithProcessTimeout(sc.Timeout),
			sandbox.WithProcessMaxOutput(sc.MaxOutputBytes),
			sandbox.WithProcessLimits(limits),
			sandbox.WithArgs(sc.Args...),
		}
		if sc.FileName != "" {
			opts = append(opts, sandbox.WithFileName(sc.FileName))
		}
		return sandbox.NewProcessRunner(sc.Interpreter, opts...)
	}
	if sc.InProcess {
		return sandbox.NewLuaRunner(
			sandbox.WithLuaTimeout(sc.Timeout),
			sandbox.WithLuaMaxOutput(sc.MaxOutputBytes),
		)
	}
	return sandbox.NewIsolatedLuaRunner(
		sandbox.WithIsolatedTimeout(sc.Timeout),
		sandbox.WithIsolatedMaxOutput(sc.MaxOutputBytes),
		sandbox.WithIsolatedLimits(limits),
	)
}

func (e *env) redis(addr string) *backend.Client {
	client := backend.NewClient(&backend.Options{Addr: addr})
	e.closers = append(e.closers, client)
	return client
}

// checkpointStore opens the configured backend. The memory backend only
// lives as long as the process.
func (e *env) checkpointStore() (types.CheckpointStore[repair.State], error) {
	cc := e.cfg.Checkpoints
	switch cc.Backend {
	case config.BackendSQLite:
		store, err := checkpoints.NewSQLiteStore[repair.State](cc.SQLitePath)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store)
		return store, nil
	case config.BackendRedis:
		opts := []checkpoints.RedisOption{checkpoints.WithPrefix(cc.RedisPrefix)}
		if cc.RedisTTL > 0 {
			opts = append(opts, checkpoints.WithTTL(cc.RedisTTL))
		}
		return checkpoints.NewRedisStore[repair.State](e.redis(cc.RedisAddr), opts...), nil
	default:
		return checkpoints.NewMemoryStore[repair.State](), nil
	}
}

// deps builds the repair collaborators from the config.
func (e *env) deps() (repair.Deps, error) {
	model, err := e.model()
	if err != nil {
		return repair.Deps{}, err
	}
	callOpts := llm.WithCallOptions(llms.WithTemperature(e.cfg.LLM.Temperature))
	return repair.Deps{
		Explainer: llm.NewExplainer(model, callOpts),
		Fixer:     llm.NewFixer(model, e.cfg.Sandbox.Language(), callOpts),
		Sandbox:   e.sandbox(),
		Logger:    e.logger,
	}, nil
}

// repairApp compiles the repair workflow with checkpoints and metrics.
func (e *env) repairApp(opts ...workflow.AppOption[repair.State, repair.Patch]) (*workflow.App[repair.State, repair.Patch], error) {
	d, err := e.deps()
	if err != nil {
		return nil, err
	}
	store, err := e.checkpointStore()
	if err != nil {
		return nil, err
	}
	base := []workflow.AppOption[repair.State, repair.Patch]{
		workflow.WithCheckpointStore[repair.State, repair.Patch](store),
		workflow.WithObserver[repair.State, repair.Patch](e.metrics),
		workflow.WithMaxSteps[repair.State, repair.Patch](e.cfg.Repair.MaxSteps),
	}
	return repair.NewApp(d, append(base, opts...)...)
}

// runContext bounds a run by repair.timeout.
func (e *env) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Repair.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Repair.Timeout)
}

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
