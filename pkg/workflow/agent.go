package workflow

import (
	"context"

	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
)

// Agent represents a node in the user-facing workflow DSL.
type Agent[S state.GraphState[S, P], P any] interface {
	Name() string
	Execute(ctx context.Context, s S, cfg types.Config[S]) (P, error)
	Metadata() map[string]any
}
