package workflow

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/avi3tal/fixloop/internal/graph"
	"github.com/avi3tal/fixloop/pkg/agents"
	"github.com/avi3tal/fixloop/pkg/checkpoints"
	"github.com/avi3tal/fixloop/pkg/types"
	"github.com/stretchr/testify/require"
)

// ResearchState represents the state for a research workflow
type ResearchState struct {
	Topic     string
	Draft     string
	Approved  bool
	Revisions int
	Log       []string
}

type ResearchPatch struct {
	Draft     *string
	Approved  *bool
	Revisions int
	Log       []string
}

func (s ResearchState) Validate() error {
	if s.Topic == "" {
		return errors.New("topic cannot be empty")
	}
	return nil
}

func (s ResearchState) Apply(p ResearchPatch) ResearchState {
	out := s
	if p.Draft != nil {
		out.Draft = *p.Draft
	}
	if p.Approved != nil {
		out.Approved = *p.Approved
	}
	out.Revisions += p.Revisions
	out.Log = append(slices.Clone(s.Log), p.Log...)
	return out
}

func ptr[T any](v T) *T { return &v }

func researchAgents() (research, write, review *agents.BaseAgent[ResearchState, ResearchPatch]) {
	research = agents.NewSimpleAgent("research", func(_ context.Context, s ResearchState, _ types.Config[ResearchState]) (ResearchPatch, error) {
		return ResearchPatch{Log: []string{"research"}}, nil
	}, nil)
	write = agents.NewSimpleAgent("write", func(_ context.Context, s ResearchState, _ types.Config[ResearchState]) (ResearchPatch, error) {
		return ResearchPatch{Draft: ptr("draft about " + s.Topic), Log: []string{"write"}}, nil
	}, nil)
	review = agents.NewSimpleAgent("review", func(_ context.Context, s ResearchState, _ types.Config[ResearchState]) (ResearchPatch, error) {
		return ResearchPatch{Approved: ptr(s.Revisions >= 1), Log: []string{"review"}}, nil
	}, map[string]any{"role": "reviewer"})
	return research, write, review
}

func reviseRouter(_ context.Context, s ResearchState, _ types.Config[ResearchState]) (string, ResearchPatch) {
	if s.Approved {
		return graph.END, ResearchPatch{}
	}
	return "write", ResearchPatch{Revisions: 1}
}

func newResearchBuilder(t *testing.T) *Builder[ResearchState, ResearchPatch] {
	t.Helper()
	research, write, review := researchAgents()

	wf := NewBuilder[ResearchState, ResearchPatch]("research", graph.WithGraphID("test"))
	err := wf.AddAgent(research).
		AsEntryPoint().
		Then(write).
		Then(review).
		Route(reviseRouter, write.Name(), graph.END).
		Err()
	require.NoError(t, err)
	return wf
}

func TestBuilderRouteLoop(t *testing.T) {
	t.Parallel()
	compiled, err := newResearchBuilder(t).Compile()
	require.NoError(t, err)

	out, err := compiled.Run(context.Background(), ResearchState{Topic: "graphs"})
	require.NoError(t, err)
	require.True(t, out.Approved)
	require.Equal(t, 1, out.Revisions)
	require.Equal(t, "draft about graphs", out.Draft)
	require.Equal(t, []string{"research", "write", "review", "write", "review"}, out.Log)
}

func TestBuilderErrors(t *testing.T) {
	t.Parallel()

	t.Run("duplicate agent", func(t *testing.T) {
		t.Parallel()
		research, _, _ := researchAgents()
		wf := NewBuilder[ResearchState, ResearchPatch]("dup")
		require.NoError(t, wf.AddAgent(research).Err())
		err := wf.AddAgent(research).Err()
		require.ErrorIs(t, err, graph.ErrDuplicateNode)
	})

	t.Run("route to unknown agent", func(t *testing.T) {
		t.Parallel()
		research, _, _ := researchAgents()
		wf := NewBuilder[ResearchState, ResearchPatch]("unknown")
		err := wf.AddAgent(research).AsEntryPoint().Route(reviseRouter, "write", graph.END).Err()
		require.ErrorIs(t, err, graph.ErrNodeNotFound)
	})

	t.Run("missing route fails compile", func(t *testing.T) {
		t.Parallel()
		research, write, review := researchAgents()
		wf := NewBuilder[ResearchState, ResearchPatch]("open")
		require.NoError(t, wf.AddAgent(research).AsEntryPoint().Then(write).Then(review).Err())

		_, err := wf.Compile()
		var topoErr *graph.TopologyError
		require.ErrorAs(t, err, &topoErr)
		require.ErrorIs(t, err, graph.ErrNoOutgoingEdge)
		require.Equal(t, "review", topoErr.Node)
	})

	t.Run("errors short-circuit the chain", func(t *testing.T) {
		t.Parallel()
		research, write, review := researchAgents()
		wf := NewBuilder[ResearchState, ResearchPatch]("chain")
		fa := wf.AddAgent(research).Then(write).AsEntryPoint()
		require.NoError(t, fa.Err())
		require.Equal(t, "write", wf.Graph().EntryPoint())

		bad := wf.AddAgent(research)
		first := bad.Err()
		require.Error(t, first)
		require.Equal(t, first, bad.Then(review).AsEntryPoint().Err())
		require.False(t, wf.Graph().HasNode("review"))
	})
}

func TestThenIfAndOnCondition(t *testing.T) {
	t.Parallel()
	research, write, review := researchAgents()

	wf := NewBuilder[ResearchState, ResearchPatch]("branching")
	fa := wf.AddAgent(research).AsEntryPoint().ThenIf(
		func(_ context.Context, s ResearchState, _ types.Config[ResearchState]) bool { return s.Topic == "write" },
		write, review,
	)
	require.NoError(t, fa.End())

	compiled, err := wf.Compile()
	require.NoError(t, err)

	out, err := compiled.Run(context.Background(), ResearchState{Topic: "write"})
	require.NoError(t, err)
	require.Equal(t, []string{"research", "write"}, out.Log)

	out, err = compiled.Run(context.Background(), ResearchState{Topic: "other"})
	require.NoError(t, err)
	require.Equal(t, []string{"research", "review"}, out.Log)

	research2, write2, review2 := researchAgents()
	wf2 := NewBuilder[ResearchState, ResearchPatch]("keyed")
	fa2 := wf2.AddAgent(research2).AsEntryPoint().OnCondition(
		func(_ context.Context, s ResearchState, _ types.Config[ResearchState]) string { return s.Topic },
		map[string]Agent[ResearchState, ResearchPatch]{"w": write2, "r": review2},
	)
	require.NoError(t, fa2.End())

	compiled2, err := wf2.Compile()
	require.NoError(t, err)

	out, err = compiled2.Run(context.Background(), ResearchState{Topic: "r"})
	require.NoError(t, err)
	require.Equal(t, []string{"research", "review"}, out.Log)

	out, err = compiled2.Run(context.Background(), ResearchState{Topic: "unknown"})
	require.NoError(t, err)
	require.Equal(t, []string{"research"}, out.Log)
}

type recordingCallback struct {
	mu        sync.Mutex
	completed map[string]ResearchState
	failed    map[string]error
	done      chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{
		completed: map[string]ResearchState{},
		failed:    map[string]error{},
		done:      make(chan struct{}, 16),
	}
}

func (c *recordingCallback) OnComplete(_ context.Context, threadID string, out ResearchState) error {
	c.mu.Lock()
	c.completed[threadID] = out
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *recordingCallback) OnError(_ context.Context, threadID string, err error) error {
	c.mu.Lock()
	c.failed[threadID] = err
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func TestAppInvokeAndCallback(t *testing.T) {
	t.Parallel()
	cb := newRecordingCallback()
	app, err := NewApp(newResearchBuilder(t), WithCallback[ResearchState, ResearchPatch](cb))
	require.NoError(t, err)

	out, err := app.Invoke(context.Background(), ResearchState{Topic: "x"}, graph.WithThreadID[ResearchState]("t-1"))
	require.NoError(t, err)
	require.True(t, out.Approved)
	require.Equal(t, out, cb.completed["t-1"])

	_, err = app.Invoke(context.Background(), ResearchState{}, graph.WithThreadID[ResearchState]("t-2"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invoke: workflow failed")
	require.ErrorIs(t, cb.failed["t-2"], graph.ErrInvalidState)
}

func TestAppResume(t *testing.T) {
	t.Parallel()
	var calls int
	research, write, _ := researchAgents()
	flaky := agents.NewSimpleAgent("review", func(_ context.Context, _ ResearchState, _ types.Config[ResearchState]) (ResearchPatch, error) {
		calls++
		if calls == 1 {
			return ResearchPatch{}, errors.New("reviewer offline")
		}
		return ResearchPatch{Approved: ptr(true), Log: []string{"review"}}, nil
	}, nil)

	wf := NewBuilder[ResearchState, ResearchPatch]("resumable", graph.WithGraphID("r"))
	require.NoError(t, wf.AddAgent(research).AsEntryPoint().Then(write).Then(flaky).Route(reviseRouter, "write", graph.END).Err())

	store := checkpoints.NewMemoryStore[ResearchState]()
	app, err := NewApp(wf, WithCheckpointStore[ResearchState, ResearchPatch](store), WithMaxSteps[ResearchState, ResearchPatch](10))
	require.NoError(t, err)

	_, err = app.Invoke(context.Background(), ResearchState{Topic: "x"}, graph.WithThreadID[ResearchState]("t-r"))
	require.ErrorContains(t, err, "reviewer offline")

	out, err := app.Resume(context.Background(), "t-r")
	require.NoError(t, err)
	require.Equal(t, []string{"research", "write", "review"}, out.Log)
	require.Equal(t, 2, calls)
}

type chanListener struct {
	events chan Event[ResearchState]
}

func (l *chanListener) WaitForEvent(ctx context.Context) (Event[ResearchState], error) {
	select {
	case <-ctx.Done():
		return Event[ResearchState]{}, ctx.Err()
	case ev, ok := <-l.events:
		if !ok {
			return Event[ResearchState]{}, ErrListenerClosed
		}
		return ev, nil
	}
}

func TestAppStart(t *testing.T) {
	t.Parallel()
	listener := &chanListener{events: make(chan Event[ResearchState], 4)}
	cb := newRecordingCallback()
	app, err := NewApp(newResearchBuilder(t),
		WithListener[ResearchState, ResearchPatch](listener),
		WithCallback[ResearchState, ResearchPatch](cb),
		WithConcurrency[ResearchState, ResearchPatch](2),
	)
	require.NoError(t, err)

	listener.events <- Event[ResearchState]{ThreadID: "a", Input: ResearchState{Topic: "a"}}
	listener.events <- Event[ResearchState]{ThreadID: "b", Input: ResearchState{Topic: "b"}}
	listener.events <- Event[ResearchState]{ThreadID: "bad", Input: ResearchState{}}
	close(listener.events)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	require.Len(t, cb.completed, 2)
	require.Equal(t, "draft about a", cb.completed["a"].Draft)
	require.Equal(t, "draft about b", cb.completed["b"].Draft)
	require.Contains(t, cb.failed, "bad")
}

func TestAppStartWithoutListener(t *testing.T) {
	t.Parallel()
	app, err := NewApp(newResearchBuilder(t))
	require.NoError(t, err)
	require.Error(t, app.Start(context.Background()))
}

func TestAppStartStopsOnCancel(t *testing.T) {
	t.Parallel()
	listener := &chanListener{events: make(chan Event[ResearchState])}
	app, err := NewApp(newResearchBuilder(t), WithListener[ResearchState, ResearchPatch](listener))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// flakyListener fails every WaitForEvent call except those that find a
// queued event.
type flakyListener struct {
	calls  atomic.Int32
	events chan Event[ResearchState]
}

func (l *flakyListener) WaitForEvent(ctx context.Context) (Event[ResearchState], error) {
	l.calls.Add(1)
	select {
	case ev := <-l.events:
		return ev, nil
	default:
		return Event[ResearchState]{}, errors.New("broker unreachable")
	}
}

func TestAppStartBacksOffFailingListener(t *testing.T) {
	t.Parallel()
	listener := &flakyListener{events: make(chan Event[ResearchState])}
	app, err := NewApp(newResearchBuilder(t),
		WithListener[ResearchState, ResearchPatch](listener),
		WithListenerRetry[ResearchState, ResearchPatch](20*time.Millisecond, 40*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, app.Start(ctx), context.DeadlineExceeded)

	// 200ms of 20ms..40ms waits, jittered by half
	calls := listener.calls.Load()
	require.GreaterOrEqual(t, calls, int32(2))
	require.LessOrEqual(t, calls, int32(25))
}

func TestAppStartRecoversAfterListenerErrors(t *testing.T) {
	t.Parallel()
	listener := &flakyListener{events: make(chan Event[ResearchState], 1)}
	cb := newRecordingCallback()
	app, err := NewApp(newResearchBuilder(t),
		WithListener[ResearchState, ResearchPatch](listener),
		WithCallback[ResearchState, ResearchPatch](cb),
		WithListenerRetry[ResearchState, ResearchPatch](50*time.Millisecond, 50*time.Millisecond),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()

	listener.events <- Event[ResearchState]{ThreadID: "late", Input: ResearchState{Topic: "late"}}
	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		_, ok := cb.completed["late"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
