// Package metrics exports executor and tool metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avi3tal/fixloop/internal/graph"
)

var _ graph.Observer = (*Metrics)(nil)

// Metrics is a graph.Observer backed by Prometheus collectors.
type Metrics struct {
	nodeVisits   *prometheus.CounterVec
	nodeErrors   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	routes       *prometheus.CounterVec
	runs         *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		nodeVisits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixloop_node_visits_total",
				Help: "Total number of node executions",
			},
			[]string{"node"},
		),
		nodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixloop_node_errors_total",
				Help: "Node executions that returned an error",
			},
			[]string{"node"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fixloop_node_duration_seconds",
				Help:    "Duration of node executions",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"node"},
		),
		routes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixloop_transitions_total",
				Help: "Transitions taken between nodes",
			},
			[]string{"from", "to"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixloop_runs_total",
				Help: "Finished runs by result",
			},
			[]string{"result"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixloop_tool_calls_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
	}

	for _, c := range []prometheus.Collector{m.nodeVisits, m.nodeErrors, m.nodeDuration, m.routes, m.runs, m.toolCalls} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) NodeStarted(_ context.Context, _ string, node string) {
	m.nodeVisits.WithLabelValues(node).Inc()
}

func (m *Metrics) NodeFinished(_ context.Context, _ string, node string, elapsed time.Duration, err error) {
	m.nodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
	if err != nil {
		m.nodeErrors.WithLabelValues(node).Inc()
	}
}

func (m *Metrics) Routed(_ context.Context, _ string, from, to string) {
	m.routes.WithLabelValues(from, to).Inc()
}

// RunFinished counts a run under result, e.g. fixed or exhausted.
func (m *Metrics) RunFinished(result string) {
	m.runs.WithLabelValues(result).Inc()
}

// ToolCalled counts a tool invocation.
func (m *Metrics) ToolCalled(tool string, failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
