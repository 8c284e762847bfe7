package diagnose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/avi3tal/fixloop/internal/llm"
)

type completerFunc func(ctx context.Context, vars map[string]any) (string, error)

func (f completerFunc) Complete(ctx context.Context, vars map[string]any) (string, error) {
	return f(ctx, vars)
}

const trace = "ModuleNotFoundError: No module named 'langchain.chains'"

func TestDiagnoseRunsInParallel(t *testing.T) {
	t.Parallel()

	// each completer waits for the other to start
	var started sync.WaitGroup
	started.Add(2)
	wait := func(answer string) completerFunc {
		return func(ctx context.Context, vars map[string]any) (string, error) {
			started.Done()
			if vars["trace"] != trace {
				return "", errors.New("unexpected trace")
			}
			started.Wait()
			return answer, nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := New(wait("missing package"), wait("1. install it")).Diagnose(ctx, trace)
	require.NoError(t, err)
	require.Equal(t, Report{Trace: trace, Cause: "missing package", Fixes: "1. install it"}, r)
}

func TestDiagnoseFailureCancelsOther(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := completerFunc(func(context.Context, map[string]any) (string, error) {
		return "", boom
	})
	blocking := completerFunc(func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := New(blocking, failing).Diagnose(context.Background(), trace)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "fixes:")
}

func TestNewWithModel(t *testing.T) {
	t.Parallel()

	model := llm.NewScripted("same answer", "same answer")
	r, err := NewWithModel(model).Diagnose(context.Background(), trace)
	require.NoError(t, err)
	require.Equal(t, "same answer", r.Cause)
	require.Equal(t, "same answer", r.Fixes)

	var prompts []string
	for _, c := range model.Calls() {
		prompts = append(prompts, c[0].Parts[0].(llms.TextContent).Text)
	}
	require.ElementsMatch(t, []string{
		"Error cause in 1 line: " + trace,
		"5 numbered fix steps: " + trace,
	}, prompts)
}
