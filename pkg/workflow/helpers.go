package workflow

import (
	"errors"
	"fmt"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/pkg/state"
)

// ensureAgent adds the agent to the graph unless a node with its name exists.
func ensureAgent[S state.GraphState[S, P], P any](wf *Builder[S, P], agent Agent[S, P]) error {
	err := wf.graph.AddNode(agent.Name(), agent.Execute, agent.Metadata())
	if err != nil && !isDuplicateNodeError(err) {
		return fmt.Errorf("cannot ensure agent %q: %w", agent.Name(), err)
	}
	return nil
}

func isDuplicateNodeError(err error) bool {
	return errors.Is(err, graph.ErrDuplicateNode)
}
