package types

import (
	"context"
	"errors"
	"time"
)

// ErrCheckpointNotFound is returned by stores when no checkpoint exists for a key.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointKey identifies the checkpoint slot of one run of one graph.
type CheckpointKey struct {
	GraphID  string `json:"graph_id"`
	ThreadID string `json:"thread_id"`
}

// CheckpointMeta holds bookkeeping saved alongside the state.
type CheckpointMeta struct {
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Steps     int                 `json:"steps"`
	Status    NodeExecutionStatus `json:"status"`
	Next      string              `json:"next"`
	Error     string              `json:"error,omitempty"`
}

// Checkpoint is a persisted snapshot of a run.
type Checkpoint[S any] struct {
	Key    CheckpointKey  `json:"key"`
	Meta   CheckpointMeta `json:"meta"`
	State  S              `json:"state"`
	NodeID string         `json:"node_id"`
}

// CheckpointStore defines persistent storage operations
type CheckpointStore[S any] interface {
	Save(ctx context.Context, checkpoint Checkpoint[S]) error
	Load(ctx context.Context, key CheckpointKey) (*Checkpoint[S], error)
	Delete(ctx context.Context, key CheckpointKey) error
}

// DataPoint is what the executor hands to a Checkpointer after each step.
type DataPoint[S any] struct {
	State       S
	CurrentNode string
	Next        string
	Status      NodeExecutionStatus
	Steps       int
	Error       string
}

// Checkpointer handles state persistence for the executor
type Checkpointer[S any] interface {
	Save(ctx context.Context, config Config[S], data *DataPoint[S]) error
	Load(ctx context.Context, config Config[S]) (*DataPoint[S], error)
}
