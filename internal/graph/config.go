package graph

import (
	"log/slog"

	"github.com/avi3tal/fixloop/pkg/checkpoints"
	"github.com/avi3tal/fixloop/pkg/types"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultMaxSteps = 20
	defaultTimeout  = 60
)

// CompileConfig is everything a compiled graph needs besides its topology.
type CompileConfig[S any] struct {
	types.Config[S]

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Observers      []Observer
}

func NewConfig[S any](graphID string, opt ...CompilationOption[S]) CompileConfig[S] {
	opts := CompileConfig[S]{
		Config: types.Config[S]{
			GraphID:  graphID,
			MaxSteps: defaultMaxSteps,
			Timeout:  defaultTimeout,
		},
		Logger:         slog.Default(),
		TracerProvider: noop.NewTracerProvider(),
	}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

type CompilationOption[S any] func(*CompileConfig[S])

// WithMaxSteps sets the maximum number of node executions per run.
// The ceiling is independent of any retry logic inside routers.
func WithMaxSteps[S any](steps int) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		c.MaxSteps = steps
	}
}

// WithTimeout sets the execution timeout in seconds
func WithTimeout[S any](timeout int) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		c.Timeout = timeout
	}
}

// WithCheckpointStore sets the checkpointer for state persistence
func WithCheckpointStore[S any](store types.CheckpointStore[S]) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		c.Checkpointer = checkpoints.NewStateCheckpointer(store)
	}
}

// WithDebug enables step-level debug logs
func WithDebug[S any]() CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		c.Debug = true
	}
}

func WithLogger[S any](logger *slog.Logger) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

func WithTracerProvider[S any](tp trace.TracerProvider) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		if tp != nil {
			c.TracerProvider = tp
		}
	}
}

func WithObserver[S any](o Observer) CompilationOption[S] {
	return func(c *CompileConfig[S]) {
		if o != nil {
			c.Observers = append(c.Observers, o)
		}
	}
}

type ExecutionOption[S any] func(*types.Config[S])

// WithThreadID sets the unique thread identifier
func WithThreadID[S any](id string) ExecutionOption[S] {
	return func(c *types.Config[S]) {
		c.ThreadID = id
	}
}

// WithConfigurable sets additional configuration parameters
func WithConfigurable[S any](config map[string]any) ExecutionOption[S] {
	return func(c *types.Config[S]) {
		c.Configurable = config
	}
}
