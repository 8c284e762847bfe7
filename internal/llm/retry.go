package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
)

// RetryingModel retries failed model calls with exponential backoff. It is
// the completion client's own policy; the repair graph never retries.
type RetryingModel struct {
	model      llms.Model
	maxRetries uint64
	initial    time.Duration
	maxWait    time.Duration
	logger     *slog.Logger
}

type RetryOption func(*RetryingModel)

func WithInitialInterval(d time.Duration) RetryOption {
	return func(m *RetryingModel) {
		m.initial = d
	}
}

func WithMaxInterval(d time.Duration) RetryOption {
	return func(m *RetryingModel) {
		m.maxWait = d
	}
}

func WithRetryLogger(logger *slog.Logger) RetryOption {
	return func(m *RetryingModel) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewRetryingModel(model llms.Model, maxRetries int, opts ...RetryOption) *RetryingModel {
	m := &RetryingModel{
		model:      model,
		maxRetries: uint64(max(maxRetries, 0)),
		initial:    500 * time.Millisecond,
		maxWait:    10 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RetryingModel) GenerateContent(
	ctx context.Context,
	messages []llms.MessageContent,
	options ...llms.CallOption,
) (*llms.ContentResponse, error) {
	var resp *llms.ContentResponse
	op := func() error {
		var err error
		resp, err = m.model.GenerateContent(ctx, messages, options...)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		m.logger.WarnContext(ctx, "model call failed, retrying", "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(m.backOff(), ctx), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *RetryingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *RetryingModel) backOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     m.initial,
		MaxInterval:         m.maxWait,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, m.maxRetries)
}
