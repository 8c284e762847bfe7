package workflow

import (
	"context"
	"fmt"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
)

// Builder is the top-level DSL object. Wraps an internal graph.
type Builder[S state.GraphState[S, P], P any] struct {
	name  string
	graph *graph.Graph[S, P]
}

// NewBuilder creates a new DSL workflow with an underlying graph.
func NewBuilder[S state.GraphState[S, P], P any](name string, opts ...graph.Option) *Builder[S, P] {
	g := graph.NewGraph[S, P](name, opts...)
	return &Builder[S, P]{name: name, graph: g}
}

func (wf *Builder[S, P]) Name() string {
	return wf.name
}

// Graph exposes the underlying graph, e.g. for printing.
func (wf *Builder[S, P]) Graph() *graph.Graph[S, P] {
	return wf.graph
}

// Compile compiles the underlying graph using the internal engine.
func (wf *Builder[S, P]) Compile(opts ...graph.CompilationOption[S]) (*graph.CompiledGraph[S, P], error) {
	return wf.graph.Compile(opts...)
}

// AddAgent adds a new agent (node) to the workflow.
func (wf *Builder[S, P]) AddAgent(agent Agent[S, P]) *FlowAgent[S, P] {
	err := wf.graph.AddNode(agent.Name(), agent.Execute, agent.Metadata())
	if err != nil {
		return &FlowAgent[S, P]{wf: wf, agent: agent, err: fmt.Errorf("AddAgent(%q) failed: %w", agent.Name(), err)}
	}
	return &FlowAgent[S, P]{wf: wf, agent: agent, err: nil}
}

// FlowAgent references a node that was just added (an Agent).
type FlowAgent[S state.GraphState[S, P], P any] struct {
	wf    *Builder[S, P]
	agent Agent[S, P]
	err   error

	// track possible branch targets from a ThenIf/OnCondition
	branchTargets []string
}

func (fa *FlowAgent[S, P]) Err() error {
	return fa.err
}

// AsEntryPoint marks the current agent as the graph's entry point.
func (fa *FlowAgent[S, P]) AsEntryPoint() *FlowAgent[S, P] {
	if fa.err != nil {
		return fa
	}
	if err := fa.wf.graph.SetEntryPoint(fa.agent.Name()); err != nil {
		fa.err = fmt.Errorf("AsEntryPoint failed: %w", err)
	}
	return fa
}

// Then creates a simple sequential link from fa.agent -> nextAgent.
func (fa *FlowAgent[S, P]) Then(nextAgent Agent[S, P]) *FlowAgent[S, P] {
	if fa.err != nil {
		return fa
	}

	if err := ensureAgent(fa.wf, nextAgent); err != nil {
		fa.err = err
		return fa
	}
	if e := fa.wf.graph.AddEdge(fa.agent.Name(), nextAgent.Name(), nil); e != nil {
		fa.err = fmt.Errorf("Then(%q) failed: %w", nextAgent.Name(), e)
		return fa
	}

	return &FlowAgent[S, P]{wf: fa.wf, agent: nextAgent, err: fa.err}
}

// Route attaches a router to the current agent. targets lists every name the
// router may return; graph.END is allowed. Targets must already be agents of
// the workflow.
func (fa *FlowAgent[S, P]) Route(router graph.Router[S, P], targets ...string) *FlowAgent[S, P] {
	if fa.err != nil {
		return fa
	}
	if err := fa.wf.graph.AddConditionalEdge(fa.agent.Name(), targets, router, nil); err != nil {
		fa.err = fmt.Errorf("Route failed: %w", err)
	}
	return fa
}

// End marks the current agent as pointing to the END node.
func (fa *FlowAgent[S, P]) End() error {
	if fa.err != nil {
		return fa.err
	}
	if len(fa.branchTargets) > 0 {
		// We just came from a ThenIf or OnCondition with multiple possible branches
		for _, targetName := range fa.branchTargets {
			if targetName == graph.END {
				continue
			}
			e := fa.wf.graph.AddEdge(targetName, graph.END, nil)
			if e != nil {
				fa.err = fmt.Errorf("[End]: AddEdge(%q->END) failed: %w", targetName, e)
				return fa.err
			}
		}
		fa.branchTargets = nil
	} else {
		e := fa.wf.graph.AddEdge(fa.agent.Name(), graph.END, nil)
		if e != nil {
			fa.err = fmt.Errorf("[End]: AddEdge(%q->END) failed: %w", fa.agent.Name(), e)
		}
	}
	return fa.err
}

// ThenIf creates a 2-branch condition: if predicate => ifTrueAgent else ifFalseAgent.
func (fa *FlowAgent[S, P]) ThenIf(
	predicate func(ctx context.Context, s S, cfg types.Config[S]) bool,
	ifTrueAgent Agent[S, P],
	ifFalseAgent Agent[S, P],
) *FlowAgent[S, P] {
	if fa.err != nil {
		return fa
	}

	for _, ag := range []Agent[S, P]{ifTrueAgent, ifFalseAgent} {
		if err := ensureAgent(fa.wf, ag); err != nil {
			fa.err = err
			return fa
		}
	}

	possibleTargets := []string{ifTrueAgent.Name(), ifFalseAgent.Name()}
	cond := func(ctx context.Context, s S, cfg types.Config[S]) (string, P) {
		var none P
		if predicate(ctx, s, cfg) {
			return ifTrueAgent.Name(), none
		}
		return ifFalseAgent.Name(), none
	}

	err := fa.wf.graph.AddConditionalEdge(fa.agent.Name(), possibleTargets, cond, nil)
	if err != nil {
		fa.err = fmt.Errorf("ThenIf failed: %w", err)
	}
	fa.branchTargets = possibleTargets

	return fa
}

// OnCondition is a keyed version of ThenIf. An unknown key ends the run.
func (fa *FlowAgent[S, P]) OnCondition(
	condition func(ctx context.Context, s S, cfg types.Config[S]) string,
	branchMap map[string]Agent[S, P],
) *FlowAgent[S, P] {
	if fa.err != nil {
		return fa
	}

	targets := []string{graph.END}
	for _, ag := range branchMap {
		if err := ensureAgent(fa.wf, ag); err != nil {
			fa.err = err
			return fa
		}
		targets = append(targets, ag.Name())
	}

	wrapperCond := func(ctx context.Context, s S, cfg types.Config[S]) (string, P) {
		var none P
		agent, ok := branchMap[condition(ctx, s, cfg)]
		if !ok {
			return graph.END, none
		}
		return agent.Name(), none
	}

	err := fa.wf.graph.AddConditionalEdge(fa.agent.Name(), targets, wrapperCond, nil)
	if err != nil {
		fa.err = fmt.Errorf("OnCondition failed: %w", err)
	}

	fa.branchTargets = targets
	return fa
}
