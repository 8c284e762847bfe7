package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// execution is the mutable cursor of a single run. It never outlives the
// Run or Resume call that created it.
type execution[S state.GraphState[S, P], P any] struct {
	graph  *CompiledGraph[S, P]
	config types.Config[S]

	state  S
	last   string
	cursor string
	steps  int
}

// execute runs nodes until END. Cancellation and the run timeout are only
// observed between nodes: a node always runs to completion on a context that
// keeps the run's values but never its deadline, and a run stopped that way
// returns the zero state with ErrCancelled.
func (e *execution[S, P]) execute(ctx context.Context) (S, error) {
	var zero S
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.Timeout)*time.Second)
		defer cancel()
	}

	log := e.graph.logger.With("thread", e.config.ThreadID)
	log.InfoContext(ctx, "run started", "entry", e.cursor, "steps", e.steps)

	for e.cursor != END {
		if err := ctx.Err(); err != nil {
			e.checkpointDetached(ctx, types.StatusCancelled, err.Error())
			log.InfoContext(ctx, "run cancelled", "next", e.cursor, "steps", e.steps)
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		if e.config.MaxSteps > 0 && e.steps >= e.config.MaxSteps {
			err := NewExecutionError("execute", e.cursor, fmt.Errorf("%w (%d)", ErrMaxStepsExceeded, e.config.MaxSteps))
			e.checkpointDetached(ctx, types.StatusFailed, err.Error())
			return e.state, err
		}

		if e.config.Debug {
			log.DebugContext(ctx, "executing step", "step", e.steps+1, "node", e.cursor)
		}

		if err := e.step(ctx); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				e.checkpointDetached(ctx, types.StatusCancelled, cerr.Error())
				log.InfoContext(ctx, "run cancelled", "node", e.cursor, "steps", e.steps, "error", err)
				return zero, fmt.Errorf("%w: %w", ErrCancelled, cerr)
			}
			e.checkpointDetached(ctx, types.StatusFailed, err.Error())
			log.WarnContext(ctx, "run failed", "node", e.cursor, "error", err)
			return e.state, err
		}
	}

	log.InfoContext(ctx, "run finished", "steps", e.steps)
	return e.state, nil
}

// step runs the node under the cursor, merges its patch, routes and saves a
// checkpoint. On error the cursor and state are left untouched.
func (e *execution[S, P]) step(ctx context.Context) error {
	node, ok := e.graph.graph.nodes[e.cursor]
	if !ok {
		return NewExecutionError("execute", e.cursor, ErrNodeNotFound)
	}

	patch, err := e.invoke(ctx, node)
	if err != nil {
		return NewExecutionError("node", node.Name, err)
	}

	next := e.state.Apply(patch)
	if err := next.Validate(); err != nil {
		return NewExecutionError("validate", node.Name, fmt.Errorf("%w: %w", ErrInvalidState, err))
	}

	target, next, err := e.resolve(ctx, node.Name, next)
	if err != nil {
		return err
	}

	e.state = next
	e.steps++
	e.last = node.Name
	e.cursor = target

	status := types.StatusRunning
	if target == END {
		status = types.StatusCompleted
	}
	return e.checkpoint(ctx, status, "")
}

func (e *execution[S, P]) invoke(ctx context.Context, node NodeSpec[S, P]) (P, error) {
	graphID := e.graph.graph.graphID
	ctx, span := e.graph.tracer.Start(ctx, "node "+node.Name, trace.WithAttributes(
		attribute.String("fixloop.graph_id", graphID),
		attribute.String("fixloop.thread_id", e.config.ThreadID),
		attribute.String("fixloop.node", node.Name),
		attribute.Int("fixloop.step", e.steps+1),
	))
	defer span.End()

	for _, o := range e.graph.observers {
		o.NodeStarted(ctx, graphID, node.Name)
	}

	started := time.Now()
	patch, err := node.Function(context.WithoutCancel(ctx), e.state, e.config)
	elapsed := time.Since(started)

	for _, o := range e.graph.observers {
		o.NodeFinished(ctx, graphID, node.Name, elapsed, err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.config.Debug {
		e.graph.logger.DebugContext(ctx, "node finished",
			"thread", e.config.ThreadID, "node", node.Name, "elapsed", elapsed, "error", err)
	}
	return patch, err
}

// resolve picks the next node through the static edge or the router of from.
// A router patch is merged into st before it is returned.
func (e *execution[S, P]) resolve(ctx context.Context, from string, st S) (string, S, error) {
	g := e.graph.graph
	target := ""

	if r, ok := g.routers[from]; ok {
		next, patch := r.Route(ctx, st, e.config)
		if !slices.Contains(r.Targets, next) {
			return "", st, NewExecutionError("route", from, fmt.Errorf("%w: %q not in %v", ErrInvalidRoute, next, r.Targets))
		}
		st = st.Apply(patch)
		if err := st.Validate(); err != nil {
			return "", st, NewExecutionError("validate", from, fmt.Errorf("%w: %w", ErrInvalidState, err))
		}
		target = next
	} else {
		edges := g.staticEdges(from)
		if len(edges) != 1 {
			return "", st, NewExecutionError("route", from, ErrNoOutgoingEdge)
		}
		target = edges[0].To
	}

	for _, o := range e.graph.observers {
		o.Routed(ctx, g.graphID, from, target)
	}
	if e.config.Debug {
		e.graph.logger.DebugContext(ctx, "routed", "thread", e.config.ThreadID, "from", from, "to", target)
	}
	return target, st, nil
}

func (e *execution[S, P]) checkpoint(ctx context.Context, status types.NodeExecutionStatus, errMsg string) error {
	if e.config.Checkpointer == nil {
		return nil
	}

	data := &types.DataPoint[S]{
		State:       e.state,
		CurrentNode: e.last,
		Next:        e.cursor,
		Status:      status,
		Steps:       e.steps,
		Error:       errMsg,
	}
	if err := e.config.Checkpointer.Save(ctx, e.config, data); err != nil {
		return NewExecutionError("checkpoint", e.last, err)
	}
	return nil
}

// checkpointDetached records a terminal status even when ctx is already done.
// The run is failing anyway, so a save error is only logged.
func (e *execution[S, P]) checkpointDetached(ctx context.Context, status types.NodeExecutionStatus, errMsg string) {
	err := e.checkpoint(context.WithoutCancel(ctx), status, errMsg)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.graph.logger.WarnContext(ctx, "failed to save checkpoint", "thread", e.config.ThreadID, "error", err)
	}
}
