// Package queue feeds workflow runs from a redis list and stores their
// results back in redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"

	"github.com/avi3tal/fixloop/pkg/workflow"
)

const (
	DefaultName      = "fixloop:requests"
	defaultPoll      = time.Second
	defaultResultTTL = 24 * time.Hour
)

// ErrNoResult is returned for a thread with no stored result yet.
var ErrNoResult = errors.New("no result for thread")

type message[S any] struct {
	ThreadID string `json:"thread_id"`
	Input    S      `json:"input"`
}

// Status of a finished run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is what the queue records when a run ends.
type Result[S any] struct {
	ThreadID   string    `json:"thread_id"`
	Status     Status    `json:"status"`
	Output     *S        `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Queue is a workflow.Listener reading a redis list and a workflow.Callback
// writing results under a key per thread.
type Queue[S any] struct {
	client       *backend.Client
	name         string
	resultPrefix string
	resultTTL    time.Duration
	poll         time.Duration
	logger       *slog.Logger
	closed       atomic.Bool
}

var (
	_ workflow.Listener[struct{}] = (*Queue[struct{}])(nil)
	_ workflow.Callback[struct{}] = (*Queue[struct{}])(nil)
)

type Option func(*options)

type options struct {
	name         string
	resultPrefix string
	resultTTL    time.Duration
	poll         time.Duration
	logger       *slog.Logger
}

// WithName sets the list key requests are pushed to.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithResultTTL sets how long results are kept.
func WithResultTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.resultTTL = ttl
	}
}

// WithPoll bounds how long one blocking pop waits. go-redis rounds it up to
// a whole second.
func WithPoll(d time.Duration) Option {
	return func(o *options) {
		o.poll = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func New[S any](client *backend.Client, opts ...Option) *Queue[S] {
	o := options{
		name:      DefaultName,
		resultTTL: defaultResultTTL,
		poll:      defaultPoll,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resultPrefix == "" {
		o.resultPrefix = o.name + ":result:"
	}
	return &Queue[S]{
		client:       client,
		name:         o.name,
		resultPrefix: o.resultPrefix,
		resultTTL:    o.resultTTL,
		poll:         o.poll,
		logger:       o.logger,
	}
}

// Enqueue pushes a request and returns its thread id, generating one when
// the event has none.
func (q *Queue[S]) Enqueue(ctx context.Context, ev workflow.Event[S]) (string, error) {
	if ev.ThreadID == "" {
		ev.ThreadID = uuid.New().String()
	}
	payload, err := json.Marshal(message[S]{ThreadID: ev.ThreadID, Input: ev.Input})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return "", fmt.Errorf("push request: %w", err)
	}
	return ev.ThreadID, nil
}

// Len reports how many requests are waiting.
func (q *Queue[S]) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Close makes WaitForEvent return workflow.ErrListenerClosed on its next poll.
func (q *Queue[S]) Close() {
	q.closed.Store(true)
}

func (q *Queue[S]) WaitForEvent(ctx context.Context) (workflow.Event[S], error) {
	for {
		if q.closed.Load() {
			return workflow.Event[S]{}, workflow.ErrListenerClosed
		}
		if err := ctx.Err(); err != nil {
			return workflow.Event[S]{}, err
		}

		res, err := q.client.BLPop(ctx, q.poll, q.name).Result()
		if errors.Is(err, backend.Nil) {
			continue
		}
		if err != nil {
			return workflow.Event[S]{}, fmt.Errorf("pop request: %w", err)
		}

		// res is [key, value]
		var m message[S]
		if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
			return workflow.Event[S]{}, fmt.Errorf("decode request: %w", err)
		}
		q.logger.DebugContext(ctx, "request received", "thread", m.ThreadID)
		return workflow.Event[S]{ThreadID: m.ThreadID, Input: m.Input}, nil
	}
}

func (q *Queue[S]) OnComplete(ctx context.Context, threadID string, output S) error {
	return q.store(ctx, Result[S]{ThreadID: threadID, Status: StatusCompleted, Output: &output})
}

// OnError records the failure. Listener errors have no thread and are only
// logged.
func (q *Queue[S]) OnError(ctx context.Context, threadID string, err error) error {
	if threadID == "" {
		q.logger.WarnContext(ctx, "request dropped", "error", err)
		return nil
	}
	return q.store(ctx, Result[S]{ThreadID: threadID, Status: StatusFailed, Error: err.Error()})
}

func (q *Queue[S]) store(ctx context.Context, r Result[S]) error {
	r.FinishedAt = time.Now().UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := q.client.Set(ctx, q.resultPrefix+r.ThreadID, data, q.resultTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}

// Result loads the stored result of a thread.
func (q *Queue[S]) Result(ctx context.Context, threadID string) (Result[S], error) {
	data, err := q.client.Get(ctx, q.resultPrefix+threadID).Bytes()
	if errors.Is(err, backend.Nil) {
		return Result[S]{}, fmt.Errorf("%w: %s", ErrNoResult, threadID)
	}
	if err != nil {
		return Result[S]{}, fmt.Errorf("load result: %w", err)
	}
	var r Result[S]
	if err := json.Unmarshal(data, &r); err != nil {
		return Result[S]{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}
