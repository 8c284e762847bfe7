package state

// Patchable is implemented by states that accept partial updates of type P.
type Patchable[S any, P any] interface {
	// Apply returns a new state with the patch merged in. The receiver is left untouched.
	Apply(P) S
}

// State represents the base interface for any state type.
type State interface {
	// Validate validates the state
	Validate() error
}

// GraphState Combine both interfaces for graph states.
type GraphState[S any, P any] interface {
	State
	Patchable[S, P]
}
