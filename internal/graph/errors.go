package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyCompiled is returned when attempting to modify a compiled graph
	ErrAlreadyCompiled = errors.New("graph is already compiled and cannot be modified")

	// ErrInvalidNode is returned when a node fails validation
	ErrInvalidNode = errors.New("invalid node")

	// ErrDuplicateNode is returned when adding a node that already exists
	ErrDuplicateNode = errors.New("node with this ID already exists")

	// ErrNodeNotFound is returned when referencing a non-existent node
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoEntryPoint is returned when validating a graph with no entry point
	ErrNoEntryPoint = errors.New("graph must have an entry point")

	// ErrNoEndPoint is returned when validating a graph with no end point
	ErrNoEndPoint = errors.New("graph must have at least one path to END")

	// ErrNoOutgoingEdge is returned when a node has neither a static edge nor a router
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge or router")

	// ErrAmbiguousEdge is returned when a node has more than one way out
	ErrAmbiguousEdge = errors.New("node must have exactly one static edge or one router")

	// ErrDuplicateRouter is returned when a second router is attached to a node
	ErrDuplicateRouter = errors.New("node already has a router")

	// ErrUnreachableNode is returned when a node cannot be reached from the entry point
	ErrUnreachableNode = errors.New("node is unreachable from entry point")

	// ErrInvalidCondition is returned when a router definition is invalid
	ErrInvalidCondition = errors.New("invalid edge condition")

	// ErrInvalidRoute is returned when a router picks a target it did not declare
	ErrInvalidRoute = errors.New("router returned an undeclared target")

	// ErrInvalidState is returned when the graph state is invalid
	ErrInvalidState = errors.New("invalid graph state")

	// ErrMaxStepsExceeded is returned when a run hits its step ceiling
	ErrMaxStepsExceeded = errors.New("max steps exceeded")

	// ErrCancelled is returned when the context is done between two nodes
	ErrCancelled = errors.New("execution cancelled")

	// ErrNoCheckpointer is returned by Resume on a graph compiled without a checkpoint store
	ErrNoCheckpointer = errors.New("no checkpoint store configured")
)

// TopologyError represents a malformed graph definition. It is always
// reported before any node runs.
type TopologyError struct {
	// Op is the operation that failed
	Op string
	// Node is the ID of the node involved (if any)
	Node string
	// Err is the underlying error
	Err error
}

func (e *TopologyError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("invalid topology: %s: node '%s': %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("invalid topology: %s: %v", e.Op, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// NewTopologyError creates a new TopologyError
func NewTopologyError(op string, node string, err error) error {
	return &TopologyError{
		Op:   op,
		Node: node,
		Err:  err,
	}
}

// ExecutionError represents an error during the graph execution
type ExecutionError struct {
	// Phase is the execution phase where the error occurred
	Phase string
	// Node is the ID of the node being executed
	Node string
	// Err is the underlying error
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error: %s: node '%s': %v", e.Phase, e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(phase string, node string, err error) error {
	return &ExecutionError{
		Phase: phase,
		Node:  node,
		Err:   err,
	}
}
