package graph

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
	"github.com/google/uuid"
)

// Constants for special nodes
const (
	START            = "START"
	END              = "END"
	defaultGraphName = "graph"
)

// NodeFunc is a single step. It reads the current state and proposes a patch;
// it never mutates the state it was given.
type NodeFunc[S state.GraphState[S, P], P any] func(context.Context, S, types.Config[S]) (P, error)

// Router picks the next node after the node it is attached to. The returned
// patch is applied before the executor advances.
type Router[S state.GraphState[S, P], P any] func(context.Context, S, types.Config[S]) (string, P)

// NodeSpec represents a node's specification
type NodeSpec[S state.GraphState[S, P], P any] struct {
	Name     string
	Function NodeFunc[S, P]
	Metadata map[string]any
}

// Edge represents a static connection between nodes
type Edge struct {
	From     string
	To       string
	Metadata map[string]any
}

// RouterSpec is a conditional edge with its declared targets
type RouterSpec[S state.GraphState[S, P], P any] struct {
	From     string
	Targets  []string
	Route    Router[S, P]
	Metadata map[string]any
}

// Graph represents the base graph structure
type Graph[S state.GraphState[S, P], P any] struct {
	name    string
	graphID string

	nodes   map[string]NodeSpec[S, P]
	order   []string
	edges   []Edge
	routers map[string]RouterSpec[S, P]

	entryPoint string
	compiled   bool
}

type Option func(*graphOptions)

type graphOptions struct {
	id string
}

// WithGraphID replaces the random part of the graph ID, making it stable
// across processes. Required for checkpoints to be found again after a restart.
func WithGraphID(id string) Option {
	return func(o *graphOptions) {
		o.id = id
	}
}

// NewGraph creates a new graph instance
func NewGraph[S state.GraphState[S, P], P any](name string, opt ...Option) *Graph[S, P] {
	graphName := defaultGraphName
	if name != "" {
		graphName = name
	}

	opts := graphOptions{id: uuid.New().String()}
	for _, o := range opt {
		o(&opts)
	}

	// remove spaces
	graphName = strings.ReplaceAll(graphName, " ", "-")

	return &Graph[S, P]{
		name:    graphName,
		graphID: fmt.Sprintf("%s-%s", graphName, opts.id),
		nodes:   make(map[string]NodeSpec[S, P]),
		routers: make(map[string]RouterSpec[S, P]),
	}
}

// ID returns the graph ID that checkpoints are keyed by.
func (g *Graph[S, P]) ID() string {
	return g.graphID
}

// Name returns the human readable graph name.
func (g *Graph[S, P]) Name() string {
	return g.name
}

// EntryPoint returns the first node of a run, or "" before SetEntryPoint.
func (g *Graph[S, P]) EntryPoint() string {
	return g.entryPoint
}

// HasNode reports whether a node called name was added.
func (g *Graph[S, P]) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// AddNode adds a new node to the graph
func (g *Graph[S, P]) AddNode(name string, fn NodeFunc[S, P], metadata map[string]any) error {
	if g.compiled {
		return NewTopologyError("AddNode", name, ErrAlreadyCompiled)
	}
	if name == "" || name == START || name == END || fn == nil {
		return NewTopologyError("AddNode", name, ErrInvalidNode)
	}
	if _, exists := g.nodes[name]; exists {
		return NewTopologyError("AddNode", name, ErrDuplicateNode)
	}

	g.nodes[name] = NodeSpec[S, P]{
		Name:     name,
		Function: fn,
		Metadata: metadata,
	}
	g.order = append(g.order, name)
	return nil
}

// AddEdge adds a static edge. A node may have at most one.
func (g *Graph[S, P]) AddEdge(from, to string, metadata map[string]any) error {
	if g.compiled {
		return NewTopologyError("AddEdge", from, ErrAlreadyCompiled)
	}
	if err := g.validateEdgeNodes("AddEdge", from, []string{to}); err != nil {
		return err
	}

	g.edges = append(g.edges, Edge{
		From:     from,
		To:       to,
		Metadata: metadata,
	})
	return nil
}

// SetEndPoint connects name to END
func (g *Graph[S, P]) SetEndPoint(name string) error {
	return g.AddEdge(name, END, nil)
}

// AddConditionalEdge attaches a router to from. The router may only return one
// of possibleTargets.
func (g *Graph[S, P]) AddConditionalEdge(
	from string,
	possibleTargets []string,
	router Router[S, P],
	metadata map[string]any,
) error {
	if g.compiled {
		return NewTopologyError("AddConditionalEdge", from, ErrAlreadyCompiled)
	}
	if router == nil || len(possibleTargets) == 0 {
		return NewTopologyError("AddConditionalEdge", from, ErrInvalidCondition)
	}
	if err := g.validateEdgeNodes("AddConditionalEdge", from, possibleTargets); err != nil {
		return err
	}
	if _, exists := g.routers[from]; exists {
		return NewTopologyError("AddConditionalEdge", from, ErrDuplicateRouter)
	}

	g.routers[from] = RouterSpec[S, P]{
		From:     from,
		Targets:  slices.Clone(possibleTargets),
		Route:    router,
		Metadata: metadata,
	}
	return nil
}

// validateEdgeNodes validates source and target nodes
func (g *Graph[S, P]) validateEdgeNodes(op, from string, targets []string) error {
	if from == END {
		return NewTopologyError(op, from, fmt.Errorf("%w: cannot add edge from END", ErrInvalidNode))
	}
	if _, exists := g.nodes[from]; !exists {
		return NewTopologyError(op, from, ErrNodeNotFound)
	}

	for _, target := range targets {
		if target == START {
			return NewTopologyError(op, from, fmt.Errorf("%w: cannot add edge to START", ErrInvalidNode))
		}
		if target == END {
			continue
		}
		if _, exists := g.nodes[target]; !exists {
			return NewTopologyError(op, target, ErrNodeNotFound)
		}
	}
	return nil
}

// SetEntryPoint sets the entry point of the graph
func (g *Graph[S, P]) SetEntryPoint(name string) error {
	if g.compiled {
		return NewTopologyError("SetEntryPoint", name, ErrAlreadyCompiled)
	}
	if name == END || name == START {
		return NewTopologyError("SetEntryPoint", name, ErrInvalidNode)
	}
	if _, exists := g.nodes[name]; !exists {
		return NewTopologyError("SetEntryPoint", name, ErrNodeNotFound)
	}

	g.entryPoint = name
	return nil
}

// Validate checks the topology: an entry point, exactly one way out of every
// node, every node reachable and END reachable.
func (g *Graph[S, P]) Validate() error {
	if g.entryPoint == "" {
		return NewTopologyError("Validate", "", ErrNoEntryPoint)
	}
	if _, exists := g.nodes[g.entryPoint]; !exists {
		return NewTopologyError("Validate", g.entryPoint, ErrNodeNotFound)
	}

	for _, name := range g.order {
		static := len(g.staticEdges(name))
		_, routed := g.routers[name]
		switch {
		case static == 0 && !routed:
			return NewTopologyError("Validate", name, ErrNoOutgoingEdge)
		case static > 1, static == 1 && routed:
			return NewTopologyError("Validate", name, ErrAmbiguousEdge)
		}
	}

	reachable := g.reachable(g.entryPoint)
	for _, name := range g.order {
		if !reachable[name] {
			return NewTopologyError("Validate", name, ErrUnreachableNode)
		}
	}
	if !reachable[END] {
		return NewTopologyError("Validate", "", ErrNoEndPoint)
	}
	return nil
}

func (g *Graph[S, P]) staticEdges(from string) []Edge {
	var out []Edge
	for _, edge := range g.edges {
		if edge.From == from {
			out = append(out, edge)
		}
	}
	return out
}

// successors returns every node the executor may move to after name.
func (g *Graph[S, P]) successors(name string) []string {
	var out []string
	for _, edge := range g.staticEdges(name) {
		out = append(out, edge.To)
	}
	if r, ok := g.routers[name]; ok {
		out = append(out, r.Targets...)
	}
	return out
}

func (g *Graph[S, P]) reachable(from string) map[string]bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.successors(node) {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// Compile validates the graph and freezes it. Compiling again is allowed and
// yields an independent executable sharing the same topology.
func (g *Graph[S, P]) Compile(opt ...CompilationOption[S]) (*CompiledGraph[S, P], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	g.compiled = true

	cfg := NewConfig[S](g.graphID, opt...)
	return newCompiledGraph(g, cfg), nil
}
