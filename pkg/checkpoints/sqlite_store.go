package checkpoints

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avi3tal/fixloop/pkg/types"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists every checkpoint as a row. Load returns the most recent
// one, History returns all of them in save order.
type SQLiteStore[S any] struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates its schema.
func NewSQLiteStore[S any](path string) (*SQLiteStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore[S]{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore[S]) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore[S]) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		graph_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		node_id TEXT NOT NULL DEFAULT '',
		next TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_key ON checkpoints(graph_id, thread_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore[S]) Save(ctx context.Context, checkpoint types.Checkpoint[S]) error {
	data, err := json.Marshal(checkpoint.State)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	createdAt := checkpoint.Meta.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (graph_id, thread_id, node_id, next, status, steps, error, state, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		checkpoint.Key.GraphID, checkpoint.Key.ThreadID, checkpoint.NodeID, checkpoint.Meta.Next,
		string(checkpoint.Meta.Status), checkpoint.Meta.Steps, checkpoint.Meta.Error, string(data), createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore[S]) Load(ctx context.Context, key types.CheckpointKey) (*types.Checkpoint[S], error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, next, status, steps, error, state, created_at
		 FROM checkpoints WHERE graph_id = ? AND thread_id = ?
		 ORDER BY id DESC LIMIT 1`,
		key.GraphID, key.ThreadID,
	)

	cp, err := s.scan(key, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// History returns every checkpoint saved under key, oldest first.
func (s *SQLiteStore[S]) History(ctx context.Context, key types.CheckpointKey) ([]types.Checkpoint[S], error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, next, status, steps, error, state, created_at
		 FROM checkpoints WHERE graph_id = ? AND thread_id = ?
		 ORDER BY id ASC`,
		key.GraphID, key.ThreadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []types.Checkpoint[S]
	for rows.Next() {
		cp, err := s.scan(key, rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *cp)
	}
	return history, rows.Err()
}

func (s *SQLiteStore[S]) Delete(ctx context.Context, key types.CheckpointKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE graph_id = ? AND thread_id = ?`,
		key.GraphID, key.ThreadID,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore[S]) scan(key types.CheckpointKey, row scanner) (*types.Checkpoint[S], error) {
	var (
		cp     types.Checkpoint[S]
		status string
		state  string
	)
	err := row.Scan(&cp.NodeID, &cp.Meta.Next, &status, &cp.Meta.Steps, &cp.Meta.Error, &state, &cp.Meta.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	cp.Key = key
	cp.Meta.Status = types.NodeExecutionStatus(status)
	cp.Meta.UpdatedAt = cp.Meta.CreatedAt
	return &cp, nil
}
