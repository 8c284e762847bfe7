package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avi3tal/fixloop/internal/logging"
)

func TestLoan(t *testing.T) {
	t.Parallel()

	out, err := Loan(LoanInput{Principal: 2_000_000, AnnualRate: 8.5, Years: 20})
	require.NoError(t, err)
	require.InDelta(t, 17356.0, out.MonthlyPayment, 1)
	require.InDelta(t, out.MonthlyPayment*240, out.TotalAmount, 1)
	require.InDelta(t, out.TotalAmount-2_000_000, out.TotalInterest, 0.01)

	out, err = Loan(LoanInput{Principal: 1200, AnnualRate: 0, Years: 1})
	require.NoError(t, err)
	require.Equal(t, LoanOutput{MonthlyPayment: 100, TotalAmount: 1200}, out)

	_, err = Loan(LoanInput{Principal: 1, AnnualRate: 1, Years: 0})
	require.ErrorContains(t, err, "years must be positive")
}

func TestSIP(t *testing.T) {
	t.Parallel()

	out, err := SIP(SIPInput{MonthlySIP: 5000, AnnualReturnRate: 12, Years: 10})
	require.NoError(t, err)
	require.InDelta(t, 1150193.4, out.FutureValue, 1)
	require.Equal(t, 600000.0, out.TotalInvested)
	require.InDelta(t, out.FutureValue-out.TotalInvested, out.Gains, 0.01)

	out, err = SIP(SIPInput{MonthlySIP: 1000, Years: 1})
	require.NoError(t, err)
	require.Equal(t, SIPOutput{FutureValue: 12000, TotalInvested: 12000}, out)

	_, err = SIP(SIPInput{MonthlySIP: -1, Years: 1})
	require.Error(t, err)
}

func TestRegistryCall(t *testing.T) {
	t.Parallel()

	reg := Default()
	require.Len(t, reg.Definitions(), 2)
	require.Equal(t, "loan_calculator", reg.Definitions()[0].Name)

	out, err := reg.Call(context.Background(), "loan_calculator", map[string]any{
		"principal": "1200", "annual_rate": 0.0, "years": 1,
	})
	require.NoError(t, err)
	require.Equal(t, LoanOutput{MonthlyPayment: 100, TotalAmount: 1200}, out)

	_, err = reg.Call(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)

	_, err = reg.Call(context.Background(), "loan_calculator", map[string]any{"principal": 1, "bogus": 2})
	require.ErrorIs(t, err, ErrInvalidArguments)
}

func TestRESTHandler(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewRESTHandler(Default(), logging.NewNop()))
	t.Cleanup(srv.Close)

	t.Run("list", func(t *testing.T) {
		t.Parallel()
		resp, err := http.Get(srv.URL + "/mcp/tools")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var defs []Definition
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&defs))
		require.Len(t, defs, 2)
		require.Equal(t, []string{"principal", "annual_rate", "years"}, defs[0].InputSchema.Required)
	})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		want   string
	}{
		{name: "loan", path: "/mcp/tools/loan_calculator", body: `{"principal":1200,"annual_rate":0,"years":1}`, status: http.StatusOK, want: `"monthly_payment":100`},
		{name: "sip", path: "/mcp/tools/sip_calculator", body: `{"monthly_sip":1000,"annual_return_rate":0,"years":1}`, status: http.StatusOK, want: `"future_value":12000`},
		{name: "unknown", path: "/mcp/tools/nope", body: `{}`, status: http.StatusNotFound, want: "unknown tool"},
		{name: "invalid", path: "/mcp/tools/loan_calculator", body: `{"principal":1,"annual_rate":1,"years":0}`, status: http.StatusUnprocessableEntity, want: "years must be positive"},
		{name: "bad json", path: "/mcp/tools/loan_calculator", body: `{`, status: http.StatusBadRequest, want: "invalid request body"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Post(srv.URL+tc.path, "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tc.status, resp.StatusCode)

			var b bytes.Buffer
			_, err = b.ReadFrom(resp.Body)
			require.NoError(t, err)
			require.Contains(t, b.String(), tc.want)
		})
	}
}

func TestMCPServer(t *testing.T) {
	t.Parallel()

	s := NewMCPServer(Default(), "test")
	call := func(msg string) map[string]any {
		t.Helper()
		raw, err := json.Marshal(s.HandleMessage(context.Background(), json.RawMessage(msg)))
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out))
		return out
	}

	list := call(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	tools := list["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 2)

	ok := call(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"loan_calculator","arguments":{"principal":1200,"annual_rate":0,"years":1}}}`)
	result := ok["result"].(map[string]any)
	require.NotEqual(t, true, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	require.Contains(t, content["text"], `"monthly_payment":100`)

	bad := call(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"loan_calculator","arguments":{"years":0}}}`)
	require.Equal(t, true, bad["result"].(map[string]any)["isError"])
}

func TestServerHandlerMountsBoth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(NewServer(":0", Default(), WithLogger(logging.NewNop())).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/mcp/tools")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// the message endpoint rejects requests without a session
	resp, err = http.Post(srv.URL+"/message", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.NotEqual(t, http.StatusNotFound, resp.StatusCode)
}
