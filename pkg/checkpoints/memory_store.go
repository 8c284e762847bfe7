package checkpoints

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avi3tal/fixloop/pkg/types"
)

// MemoryStore keeps the latest checkpoint per key in process memory.
type MemoryStore[S any] struct {
	checkpoints map[types.CheckpointKey]*types.Checkpoint[S]
	mu          sync.RWMutex
}

func NewMemoryStore[S any]() *MemoryStore[S] {
	return &MemoryStore[S]{
		checkpoints: make(map[types.CheckpointKey]*types.Checkpoint[S]),
	}
}

func (m *MemoryStore[S]) Save(_ context.Context, checkpoint types.Checkpoint[S]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.checkpoints[checkpoint.Key]; ok {
		checkpoint.Meta.CreatedAt = prev.Meta.CreatedAt
	}
	checkpoint.Meta.UpdatedAt = time.Now().UTC()
	m.checkpoints[checkpoint.Key] = &checkpoint
	return nil
}

func (m *MemoryStore[S]) Load(_ context.Context, key types.CheckpointKey) (*types.Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, exists := m.checkpoints[key]
	if !exists {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
	}
	out := *cp
	return &out, nil
}

func (m *MemoryStore[S]) Delete(_ context.Context, key types.CheckpointKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, key)
	return nil
}
