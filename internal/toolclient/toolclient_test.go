package toolclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/avi3tal/fixloop/internal/llm"
	"github.com/avi3tal/fixloop/internal/logging"
	"github.com/avi3tal/fixloop/internal/tools"
)

func newToolServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var lists atomic.Int32
	h := tools.NewRESTHandler(tools.Default(), logging.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			lists.Add(1)
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &lists
}

func TestToolsAreCached(t *testing.T) {
	t.Parallel()

	srv, lists := newToolServer(t)
	c := New(srv.URL+"/mcp/", WithLogger(logging.NewNop()))

	for range 3 {
		defs, err := c.Tools(context.Background())
		require.NoError(t, err)
		require.Len(t, defs, 2)
	}
	require.EqualValues(t, 1, lists.Load())

	c.Invalidate()
	_, err := c.Tools(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, lists.Load())
}

func TestToolsCacheExpires(t *testing.T) {
	t.Parallel()

	srv, lists := newToolServer(t)
	c := New(srv.URL+"/mcp", WithCacheTTL(10*time.Millisecond), WithLogger(logging.NewNop()))

	_, err := c.Tools(context.Background())
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.Tools(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, lists.Load())
}

func TestCall(t *testing.T) {
	t.Parallel()

	srv, _ := newToolServer(t)
	var observed []string
	c := New(srv.URL+"/mcp", WithLogger(logging.NewNop()), WithCallObserver(func(tool string, failed bool) {
		if failed {
			tool += ":failed"
		}
		observed = append(observed, tool)
	}))

	res, err := c.Call(context.Background(), "loan_calculator", map[string]any{"principal": 1200, "annual_rate": 0, "years": 1})
	require.NoError(t, err)
	require.False(t, res.Failed)
	require.Equal(t, 100.0, res.Output["monthly_payment"])

	res, err = c.Call(context.Background(), "loan_calculator", map[string]any{"principal": 1, "annual_rate": 1, "years": 0})
	require.NoError(t, err)
	require.True(t, res.Failed)
	require.Contains(t, res.Error, "years must be positive")
	require.JSONEq(t, `{"error":"Tool failed"}`, res.JSON())

	res, err = c.Call(context.Background(), "missing", nil)
	require.NoError(t, err)
	require.True(t, res.Failed)

	require.Equal(t, []string{"loan_calculator", "loan_calculator:failed", "missing:failed"}, observed)
}

func TestCallTransportFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newToolServer(t)
	url := srv.URL
	srv.Close()

	_, err := New(url+"/mcp", WithLogger(logging.NewNop())).Call(context.Background(), "loan_calculator", nil)
	require.Error(t, err)
}

func TestAgentAsk(t *testing.T) {
	t.Parallel()

	srv, _ := newToolServer(t)
	client := New(srv.URL+"/mcp", WithLogger(logging.NewNop()))

	t.Run("uses tool", func(t *testing.T) {
		t.Parallel()
		model := llm.NewScripted().
			ThenToolCall("c1", "loan_calculator", `{"principal":1200,"annual_rate":0,"years":1}`).
			Then("You pay 100 a month.")

		ans, err := NewAgent(model, client).Ask(context.Background(), "1200 loan 0% 1yr?")
		require.NoError(t, err)
		require.Equal(t, "You pay 100 a month.", ans.Text)
		require.Len(t, ans.Calls, 1)
		require.Equal(t, "loan_calculator", ans.Calls[0].Tool)

		calls := model.Calls()
		require.Len(t, calls, 2)
		summary := calls[1][0].Parts[0].(llms.TextContent).Text
		require.Contains(t, summary, "1200 loan 0% 1yr?\nTool result: {")
		require.Contains(t, summary, `"monthly_payment":100`)
	})

	t.Run("failed tool", func(t *testing.T) {
		t.Parallel()
		model := llm.NewScripted().
			ThenToolCall("c1", "loan_calculator", `{"years":0}`).
			Then("Sorry.")

		ans, err := NewAgent(model, client).Ask(context.Background(), "q")
		require.NoError(t, err)
		require.True(t, ans.Calls[0].Failed)
		summary := model.Calls()[1][0].Parts[0].(llms.TextContent).Text
		require.Equal(t, `q`+"\n"+`Tool result: {"error":"Tool failed"}`, summary)
	})

	t.Run("no tool", func(t *testing.T) {
		t.Parallel()
		model := llm.NewScripted("Hello.")
		ans, err := NewAgent(model, client).Ask(context.Background(), "hi")
		require.NoError(t, err)
		require.Equal(t, "Hello.", ans.Text)
		require.Empty(t, ans.Calls)
		require.Len(t, model.Calls(), 1)
	})
}
