package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/pkg/state"
	"github.com/avi3tal/fixloop/pkg/types"
)

// ErrListenerClosed is returned by a Listener that will not produce more
// events. Start treats it as a clean shutdown.
var ErrListenerClosed = errors.New("listener closed")

// Event is one unit of work produced by a Listener.
type Event[S any] struct {
	// ThreadID identifies the run; a random one is generated when empty.
	ThreadID string
	Input    S
}

// Listener is polled or awaited for new inputs to run in the workflow.
// For example, it might be reading from a queue, an HTTP endpoint, etc.
type Listener[S any] interface {
	// WaitForEvent blocks until a new event is available or context is done.
	WaitForEvent(ctx context.Context) (Event[S], error)
}

// Callback is invoked after execution (success or error).
type Callback[S any] interface {
	OnComplete(ctx context.Context, threadID string, output S) error
	OnError(ctx context.Context, threadID string, err error) error
}

// App represents a compiled workflow plus optional config like a checkpoint store.
type App[S state.GraphState[S, P], P any] struct {
	workflow *Builder[S, P]
	compiled *graph.CompiledGraph[S, P]
	listener Listener[S]
	callback Callback[S]
	logger   *slog.Logger

	// Additional config
	store       types.CheckpointStore[S]
	debug       bool
	maxSteps    int
	timeout     int
	concurrency int
	tracer      trace.TracerProvider
	observers   []graph.Observer

	retryInitial time.Duration
	retryMax     time.Duration
}

// AppOption is a functional option that configures the App before finalizing.
type AppOption[S state.GraphState[S, P], P any] func(*App[S, P])

func WithListener[S state.GraphState[S, P], P any](l Listener[S]) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.listener = l
	}
}

func WithCallback[S state.GraphState[S, P], P any](cb Callback[S]) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.callback = cb
	}
}

func WithCheckpointStore[S state.GraphState[S, P], P any](store types.CheckpointStore[S]) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.store = store
	}
}

func WithDebug[S state.GraphState[S, P], P any]() AppOption[S, P] {
	return func(a *App[S, P]) {
		a.debug = true
	}
}

func WithLogger[S state.GraphState[S, P], P any](logger *slog.Logger) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.logger = logger
	}
}

// WithMaxSteps overrides the executor's hard step ceiling.
func WithMaxSteps[S state.GraphState[S, P], P any](steps int) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.maxSteps = steps
	}
}

// WithTimeout sets the per-run timeout in seconds.
func WithTimeout[S state.GraphState[S, P], P any](seconds int) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.timeout = seconds
	}
}

// WithConcurrency bounds how many runs Start executes at once.
func WithConcurrency[S state.GraphState[S, P], P any](n int) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.concurrency = n
	}
}

// WithListenerRetry sets the backoff Start waits between failed
// WaitForEvent calls. It doubles from initial up to maxWait and drops back to
// initial after the next event.
func WithListenerRetry[S state.GraphState[S, P], P any](initial, maxWait time.Duration) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.retryInitial = initial
		a.retryMax = maxWait
	}
}

func WithTracerProvider[S state.GraphState[S, P], P any](tp trace.TracerProvider) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.tracer = tp
	}
}

func WithObserver[S state.GraphState[S, P], P any](o graph.Observer) AppOption[S, P] {
	return func(a *App[S, P]) {
		a.observers = append(a.observers, o)
	}
}

// NewApp compiles the Builder and sets up optional Listener, Callback, etc.
func NewApp[S state.GraphState[S, P], P any](wf *Builder[S, P], opts ...AppOption[S, P]) (*App[S, P], error) {
	app := &App[S, P]{
		workflow:     wf,
		concurrency:  1,
		logger:       slog.Default(),
		retryInitial: 100 * time.Millisecond,
		retryMax:     10 * time.Second,
	}

	for _, opt := range opts {
		opt(app)
	}

	compileOpts := []graph.CompilationOption[S]{graph.WithLogger[S](app.logger)}
	if app.store != nil {
		compileOpts = append(compileOpts, graph.WithCheckpointStore(app.store))
	}
	if app.debug {
		compileOpts = append(compileOpts, graph.WithDebug[S]())
	}
	if app.maxSteps > 0 {
		compileOpts = append(compileOpts, graph.WithMaxSteps[S](app.maxSteps))
	}
	if app.timeout > 0 {
		compileOpts = append(compileOpts, graph.WithTimeout[S](app.timeout))
	}
	if app.tracer != nil {
		compileOpts = append(compileOpts, graph.WithTracerProvider[S](app.tracer))
	}
	for _, o := range app.observers {
		compileOpts = append(compileOpts, graph.WithObserver[S](o))
	}

	cg, err := wf.Compile(compileOpts...)
	if err != nil {
		return nil, fmt.Errorf("NewApp: failed to compile workflow: %w", err)
	}
	app.compiled = cg

	return app, nil
}

// Compiled returns the compiled graph backing the app.
func (app *App[S, P]) Compiled() *graph.CompiledGraph[S, P] {
	return app.compiled
}

// Invoke runs the compiled workflow *once* with a given input.
// If the App has a callback set, OnComplete/OnError is called here.
func (app *App[S, P]) Invoke(
	ctx context.Context,
	input S,
	execOpts ...graph.ExecutionOption[S],
) (S, error) {
	threadID := threadIDOf(execOpts)
	if threadID == "" {
		threadID = uuid.New().String()
		execOpts = append(execOpts, graph.WithThreadID[S](threadID))
	}

	out, err := app.compiled.Run(ctx, input, execOpts...)
	return app.finish(ctx, threadID, out, err, "invoke")
}

// Resume continues an interrupted run from its last checkpoint.
func (app *App[S, P]) Resume(ctx context.Context, threadID string) (S, error) {
	out, err := app.compiled.Resume(ctx, threadID)
	return app.finish(ctx, threadID, out, err, "resume")
}

func (app *App[S, P]) finish(ctx context.Context, threadID string, out S, err error, op string) (S, error) {
	if err != nil {
		if app.callback != nil {
			_ = app.callback.OnError(ctx, threadID, err)
		}
		return out, errors.Wrapf(err, "%s: workflow failed", op)
	}
	if app.callback != nil {
		if cbErr := app.callback.OnComplete(ctx, threadID, out); cbErr != nil {
			return out, fmt.Errorf("%s: callback OnComplete failed: %w", op, cbErr)
		}
	}
	return out, nil
}

// Start consumes events from the Listener until ctx is done or the listener
// closes, running up to the configured concurrency at once. Every run gets
// its own state; a failing run is reported to the Callback and does not stop
// the loop.
func (app *App[S, P]) Start(ctx context.Context) error {
	if app.listener == nil {
		return errors.New("start called, but no Listener is configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(app.concurrency, 1))

	bo := app.listenerBackOff()
	var stopErr error
	for {
		if gctx.Err() != nil {
			stopErr = errors.Wrap(gctx.Err(), "context is done")
			break
		}

		ev, err := app.listener.WaitForEvent(gctx)
		if errors.Is(err, ErrListenerClosed) {
			break
		}
		if err != nil {
			if gctx.Err() != nil {
				continue
			}
			wait := bo.NextBackOff()
			app.logger.WarnContext(ctx, "listener failed", "error", err, "retry_in", wait)
			if app.callback != nil {
				_ = app.callback.OnError(gctx, "", err)
			}
			timer := time.NewTimer(wait)
			select {
			case <-gctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			continue
		}
		bo.Reset()

		var opts []graph.ExecutionOption[S]
		if ev.ThreadID != "" {
			opts = append(opts, graph.WithThreadID[S](ev.ThreadID))
		}
		input := ev.Input
		g.Go(func() error {
			// run failures are reported through the callback
			_, _ = app.Invoke(gctx, input, opts...)
			return nil
		})
	}

	_ = g.Wait()
	return stopErr
}

func (app *App[S, P]) listenerBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     app.retryInitial,
		MaxInterval:         max(app.retryMax, app.retryInitial),
		Multiplier:          2,
		RandomizationFactor: 0.5,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func threadIDOf[S any](opts []graph.ExecutionOption[S]) string {
	var cfg types.Config[S]
	for _, o := range opts {
		o(&cfg)
	}
	return cfg.ThreadID
}
