package agents

import (
	"context"

	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
)

// BaseAgent is a straightforward in-process function agent.
type BaseAgent[S state.GraphState[S, P], P any] struct {
	name     string
	fn       func(context.Context, S, types.Config[S]) (P, error)
	metadata map[string]any
}

// NewSimpleAgent helper to create an inline agent
func NewSimpleAgent[S state.GraphState[S, P], P any](
	name string,
	fn func(context.Context, S, types.Config[S]) (P, error),
	meta map[string]any,
) *BaseAgent[S, P] {
	return &BaseAgent[S, P]{name: name, fn: fn, metadata: meta}
}

func (a *BaseAgent[S, P]) Name() string {
	return a.name
}

func (a *BaseAgent[S, P]) Execute(ctx context.Context, s S, cfg types.Config[S]) (P, error) {
	return a.fn(ctx, s, cfg)
}

func (a *BaseAgent[S, P]) Metadata() map[string]any {
	return a.metadata
}
