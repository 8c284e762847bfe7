package repair

import (
	"context"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/pkg/types"
)

// RetryBound is how many times a run may go back from Execute to Explain.
// It counts retries, not attempts: a run executes at most RetryBound+1 times.
const RetryBound = 1

// Decide picks the node that follows Execute and how much Iterations grows.
// Success ends the run before the bound is considered.
func Decide(s State, bound int) (next string, delta int) {
	if !s.ErrorPresent || s.Iterations >= bound {
		return graph.END, 0
	}
	return Explain.String(), 1
}

// ShouldRetry is the conditional edge after Execute.
func ShouldRetry(bound int) graph.Router[State, Patch] {
	return func(_ context.Context, s State, _ types.Config[State]) (string, Patch) {
		next, delta := Decide(s, bound)
		return next, Patch{IterationsDelta: delta}
	}
}
