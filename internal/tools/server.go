package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
)

const shutdownTimeout = 5 * time.Second

// Server serves the REST tool endpoints and the MCP SSE transport on one
// address.
type Server struct {
	addr    string
	baseURL string
	reg     *Registry
	version string
	logger  *slog.Logger
}

type ServerOption func(*Server)

// WithBaseURL sets the public URL MCP clients use to post messages.
func WithBaseURL(u string) ServerOption {
	return func(s *Server) {
		s.baseURL = u
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

func NewServer(addr string, reg *Registry, opts ...ServerOption) *Server {
	s := &Server{addr: addr, reg: reg, version: "dev", logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseURL == "" {
		s.baseURL = "http://localhost" + addr
	}
	return s
}

// Handler mounts the REST API and the MCP endpoints /sse and /message.
func (s *Server) Handler() http.Handler {
	sse := server.NewSSEServer(NewMCPServer(s.reg, s.version), server.WithBaseURL(s.baseURL))

	r := chi.NewRouter()
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())
	r.Mount("/", NewRESTHandler(s.reg, s.logger))
	return r
}

// ListenAndServe blocks until ctx is done or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "tool server listening", "addr", s.addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop tool server gracefully: %w", err)
		}
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
