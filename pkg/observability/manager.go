package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/opencmit/alphora/pkg/hook"
)

// Manager owns the process-wide tracer and metrics registry and wires both
// into an agent's hook bus and the HTTP surface.
type Manager struct {
	cfg     Config
	tracer  *Tracer
	metrics *Metrics
}

// NewManager builds a Manager from cfg, writing trace spans to w (typically
// os.Stdout, passed in rather than hardcoded so tests can capture it).
func NewManager(ctx context.Context, cfg Config, w io.Writer) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mgr := &Manager{cfg: cfg}

	tracer, err := NewTracer(ctx, cfg.Tracing, w)
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer: %w", err)
	}
	mgr.tracer = tracer

	if cfg.Metrics.Enabled {
		mgr.metrics = NewMetrics(cfg.Metrics)
		slog.Info("observability: metrics enabled", "endpoint", cfg.Metrics.Endpoint, "namespace", cfg.Metrics.Namespace)
	}
	if cfg.Tracing.Enabled {
		slog.Info("observability: tracing enabled", "service_name", cfg.Tracing.ServiceName, "sampling_rate", cfg.Tracing.SamplingRate)
	}

	return mgr, nil
}

// Metrics returns the underlying registry, or nil if metrics are disabled.
// Exposed for call sites like pkg/httpapi that record metrics outside the
// request/response cycle the HTTPMiddleware already covers.
func (m *Manager) Metrics() *Metrics {
	if m == nil {
		return nil
	}
	return m.metrics
}

// AttachHooks wires agent/tool lifecycle events on bus into Metrics. A nil
// Manager or a Manager with metrics disabled is a no-op, so callers can
// always attach unconditionally.
func (m *Manager) AttachHooks(bus *hook.Bus) {
	if m == nil {
		return
	}
	RegisterHooks(bus, m.metrics)
}

// HTTPMiddleware returns chi middleware recording every request, or a
// passthrough if metrics are disabled.
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	if m == nil || m.metrics == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return Middleware(m.metrics)
}

// MetricsHandler serves the Prometheus scrape endpoint.
func (m *Manager) MetricsHandler() http.Handler {
	if m == nil {
		return (*Metrics)(nil).Handler()
	}
	return m.metrics.Handler()
}

// MetricsPath is the configured mount point for MetricsHandler.
func (m *Manager) MetricsPath() string {
	if m == nil || m.cfg.Metrics.Endpoint == "" {
		return DefaultMetricsPath
	}
	return m.cfg.Metrics.Endpoint
}

// Shutdown flushes the tracer's batch span processor.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return m.tracer.Shutdown(ctx)
}
