// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for the runtime: a tracer recording one span per HTTP request, a
// Metrics registry trimmed to the subsystems this runtime actually drives
// (agent, llm, tool, http, streamer), and chi middleware wiring both into
// the HTTP surface.
package observability

import (
	"fmt"
	"time"
)

// Config configures the observability system.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty" koanf:"tracing"`
	Metrics MetricsConfig `yaml:"metrics,omitempty" koanf:"metrics"`
}

// TracingConfig configures OpenTelemetry tracing. The runtime only ever
// exports to stdout (see tracer.go) — there is no collector deployment to
// point an OTLP exporter at, so Endpoint is unused and not exposed here.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled,omitempty" koanf:"enabled"`
	ServiceName  string  `yaml:"service_name,omitempty" koanf:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate,omitempty" koanf:"sampling_rate"`
	PrettyPrint  bool    `yaml:"pretty_print,omitempty" koanf:"pretty_print"`
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty" koanf:"enabled"`
	Endpoint  string `yaml:"endpoint,omitempty" koanf:"endpoint"`
	Namespace string `yaml:"namespace,omitempty" koanf:"namespace"`
}

const (
	defaultServiceName = "alphora"
	// DefaultMetricsPath is where Manager.MetricsHandler is expected to be
	// mounted when MetricsConfig.Endpoint is left unset.
	DefaultMetricsPath = "/metrics"
)

// SetDefaults applies default values to Config.
func (c *Config) SetDefaults() {
	c.Tracing.setDefaults()
	c.Metrics.setDefaults()
}

// Validate checks the Config for errors.
func (c *Config) Validate() error {
	if err := c.Tracing.validate(); err != nil {
		return fmt.Errorf("observability: tracing: %w", err)
	}
	if err := c.Metrics.validate(); err != nil {
		return fmt.Errorf("observability: metrics: %w", err)
	}
	return nil
}

func (c *TracingConfig) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

func (c *TracingConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	return nil
}

func (c *MetricsConfig) setDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMetricsPath
	}
	if c.Namespace == "" {
		c.Namespace = defaultServiceName
	}
}

func (c *MetricsConfig) validate() error {
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when metrics are enabled")
	}
	return nil
}

// shutdownTimeout bounds how long Manager.Shutdown waits for the tracer's
// batch span processor to flush.
const shutdownTimeout = 5 * time.Second
