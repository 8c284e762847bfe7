package checkpoints

import (
	"context"
	"fmt"
	"time"

	"github.com/avi3tal/fixloop/pkg/types"
)

// StateCheckpointer manages execution state persistence
type StateCheckpointer[S any] struct {
	store types.CheckpointStore[S]
}

func NewStateCheckpointer[S any](store types.CheckpointStore[S]) *StateCheckpointer[S] {
	return &StateCheckpointer[S]{
		store: store,
	}
}

// Store exposes the underlying store, e.g. for history queries.
func (sc *StateCheckpointer[S]) Store() types.CheckpointStore[S] {
	return sc.store
}

func (sc *StateCheckpointer[S]) Save(ctx context.Context, config types.Config[S], data *types.DataPoint[S]) error {
	key := types.CheckpointKey{
		GraphID:  config.GraphID,
		ThreadID: config.ThreadID,
	}

	cp := types.Checkpoint[S]{
		Key: key,
		Meta: types.CheckpointMeta{
			CreatedAt: time.Now().UTC(),
			Steps:     data.Steps,
			Status:    data.Status,
			Next:      data.Next,
			Error:     data.Error,
		},
		State:  data.State,
		NodeID: data.CurrentNode,
	}

	if err := sc.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint for GraphID %s and ThreadID %s: %w", key.GraphID, key.ThreadID, err)
	}
	return nil
}

func (sc *StateCheckpointer[S]) Load(ctx context.Context, config types.Config[S]) (*types.DataPoint[S], error) {
	key := types.CheckpointKey{
		GraphID:  config.GraphID,
		ThreadID: config.ThreadID,
	}

	cp, err := sc.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for GraphID %s and ThreadID %s: %w", key.GraphID, key.ThreadID, err)
	}

	data := &types.DataPoint[S]{
		State:       cp.State,
		CurrentNode: cp.NodeID,
		Next:        cp.Meta.Next,
		Status:      cp.Meta.Status,
		Steps:       cp.Meta.Steps,
		Error:       cp.Meta.Error,
	}

	return data, nil
}
