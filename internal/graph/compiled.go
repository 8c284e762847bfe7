package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/avi3tal/fixloop/internal/graph"

// CompiledGraph is an immutable, executable version of a Graph. It holds no
// per-run state, so concurrent runs are safe as long as each gets its own
// initial state.
type CompiledGraph[S state.GraphState[S, P], P any] struct {
	graph     *Graph[S, P]
	config    types.Config[S]
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer
}

func newCompiledGraph[S state.GraphState[S, P], P any](g *Graph[S, P], cfg CompileConfig[S]) *CompiledGraph[S, P] {
	return &CompiledGraph[S, P]{
		graph:     g,
		config:    cfg.Config,
		logger:    cfg.Logger.With("graph", g.graphID),
		tracer:    cfg.TracerProvider.Tracer(tracerName),
		observers: cfg.Observers,
	}
}

func (c *CompiledGraph[S, P]) ID() string {
	return c.graph.graphID
}

// Config returns a copy of the compile-time configuration.
func (c *CompiledGraph[S, P]) Config() types.Config[S] {
	return c.config.Clone()
}

func (c *CompiledGraph[S, P]) GetGraphInfo() *Info {
	return c.graph.GetGraphInfo()
}

func (c *CompiledGraph[S, P]) PrintGraph(w io.Writer) {
	c.graph.PrintGraph(w)
}

func (c *CompiledGraph[S, P]) runConfig(opt ...ExecutionOption[S]) types.Config[S] {
	cfg := c.config.Clone()
	for _, o := range opt {
		o(&cfg)
	}
	if cfg.ThreadID == "" {
		cfg.ThreadID = uuid.New().String()
	}
	return cfg
}

// Run executes the graph from its entry point until END.
//
// Node and router failures abort the run and are returned as *ExecutionError
// together with the last merged state. Cancellation is only observed between
// nodes; a cancelled run returns the zero state and an error wrapping
// ErrCancelled.
func (c *CompiledGraph[S, P]) Run(ctx context.Context, initial S, opt ...ExecutionOption[S]) (S, error) {
	cfg := c.runConfig(opt...)

	if err := initial.Validate(); err != nil {
		var zero S
		return zero, NewExecutionError("validate", START, fmt.Errorf("%w: %w", ErrInvalidState, err))
	}

	run := &execution[S, P]{
		graph:  c,
		config: cfg,
		state:  initial,
		last:   START,
		cursor: c.graph.entryPoint,
	}
	if err := run.checkpoint(ctx, types.StatusReady, ""); err != nil {
		var zero S
		return zero, err
	}
	return run.execute(ctx)
}

// Resume continues the run stored under threadID from the node its last
// checkpoint points at. A completed run is returned unchanged.
func (c *CompiledGraph[S, P]) Resume(ctx context.Context, threadID string, opt ...ExecutionOption[S]) (S, error) {
	var zero S
	cfg := c.runConfig(append(opt, WithThreadID[S](threadID))...)
	if cfg.Checkpointer == nil {
		return zero, NewExecutionError("resume", "", ErrNoCheckpointer)
	}

	data, err := cfg.Checkpointer.Load(ctx, cfg)
	if err != nil {
		return zero, NewExecutionError("resume", "", err)
	}
	if data.Status.Terminal() || data.Next == END {
		return data.State, nil
	}
	if !c.graph.HasNode(data.Next) {
		return zero, NewExecutionError("resume", data.Next, ErrNodeNotFound)
	}

	c.logger.InfoContext(ctx, "resuming run",
		"thread", threadID, "next", data.Next, "steps", data.Steps, "status", data.Status)

	run := &execution[S, P]{
		graph:  c,
		config: cfg,
		state:  data.State,
		last:   data.CurrentNode,
		cursor: data.Next,
		steps:  data.Steps,
	}
	return run.execute(ctx)
}
