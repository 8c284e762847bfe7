// Package toolclient discovers and calls the tools served by internal/tools
// and lets a model decide which one to use.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/avi3tal/fixloop/internal/tools"
)

const (
	DefaultCacheTTL = time.Minute
	toolsKey        = "tools"
	failedMarker    = "Tool failed"
	maxBodyBytes    = 1 << 20
)

// Result is the outcome of one tool invocation. A tool that answered with a
// non-2xx status is reported with Failed set, not as an error.
type Result struct {
	Tool   string         `json:"tool"`
	Output map[string]any `json:"output,omitempty"`
	Failed bool           `json:"failed,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// JSON renders the result the way it is shown to a model.
func (r Result) JSON() string {
	var v any = r.Output
	if r.Failed {
		v = map[string]string{"error": failedMarker}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// Client talks to the REST tool endpoints.
type Client struct {
	baseURL  string
	http     *http.Client
	cache    *ttlcache.Cache[string, []tools.Definition]
	logger   *slog.Logger
	observer func(tool string, failed bool)
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithCacheTTL sets how long discovered tools are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = ttlcache.New(ttlcache.WithTTL[string, []tools.Definition](ttl))
	}
}

// WithCallObserver is told about every completed invocation.
func WithCallObserver(fn func(tool string, failed bool)) Option {
	return func(cl *Client) {
		cl.observer = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// New returns a client for a server whose tools live under baseURL, for
// example http://localhost:8000/mcp.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = ttlcache.New(ttlcache.WithTTL[string, []tools.Definition](DefaultCacheTTL))
	}
	return c
}

// Tools returns the tool definitions, from cache while fresh.
func (c *Client) Tools(ctx context.Context) ([]tools.Definition, error) {
	if item := c.cache.Get(toolsKey); item != nil {
		return item.Value(), nil
	}

	var defs []tools.Definition
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools: unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&defs); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}

	c.cache.Set(toolsKey, defs, ttlcache.DefaultTTL)
	c.logger.DebugContext(ctx, "discovered tools", "count", len(defs))
	return defs, nil
}

// Invalidate drops the cached tool list.
func (c *Client) Invalidate() {
	c.cache.Delete(toolsKey)
}

// Call invokes the named tool. Transport failures are errors; a tool that
// rejects the call yields a failed Result.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (Result, error) {
	res, err := c.call(ctx, name, args)
	if err == nil && c.observer != nil {
		c.observer(name, res.Failed)
	}
	return res, err
}

func (c *Client) call(ctx context.Context, name string, args map[string]any) (Result, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return Result{}, fmt.Errorf("encode arguments: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/tools/"+url.PathEscape(name), body)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read %s response: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.WarnContext(ctx, "tool failed", "tool", name, "status", resp.StatusCode)
		return Result{Tool: name, Failed: true, Error: strings.TrimSpace(string(raw))}, nil
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{Tool: name, Failed: true, Error: err.Error()}, nil
	}
	return Result{Tool: name, Output: out}, nil
}

func (c *Client) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	return resp, nil
}
