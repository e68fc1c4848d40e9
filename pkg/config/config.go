// Package config loads the runtime's configuration surface from a YAML file,
// environment variable overrides, and an optional .env file, using koanf the
// way the teacher's pkg/config/koanf_loader.go does — trimmed to the file and
// env providers, since this runtime has no consul/etcd/zookeeper distributed
// config story to serve.
package config

import (
	"fmt"
	"time"

	"github.com/opencmit/alphora/pkg/observability"
)

// ServerConfig controls the HTTP listener pkg/httpapi binds.
type ServerConfig struct {
	Addr     string `yaml:"addr" koanf:"addr"`
	BasePath string `yaml:"base_path" koanf:"base_path"`
}

// MemoryConfig governs the session pool's TTL/LRU eviction policy.
type MemoryConfig struct {
	TTLSeconds               int `yaml:"memory_ttl_seconds" koanf:"memory_ttl_seconds"`
	MaxItems                 int `yaml:"max_memory_items" koanf:"max_memory_items"`
	AutoCleanIntervalSeconds int `yaml:"auto_clean_interval_seconds" koanf:"auto_clean_interval_seconds"`
}

// AgentConfig governs the ReAct loop's iteration budget and dispatch mode.
type AgentConfig struct {
	MaxIterations int  `yaml:"max_iterations" koanf:"max_iterations"`
	ParallelTools bool `yaml:"parallel_tools" koanf:"parallel_tools"`
}

// TimeoutsConfig is the per-component timeout surface spec.md §6 enumerates.
type TimeoutsConfig struct {
	RequestIdleSeconds int `yaml:"request_idle_timeout_seconds" koanf:"request_idle_timeout_seconds"`
	LLMRequestSeconds  int `yaml:"llm_request_timeout_seconds" koanf:"llm_request_timeout_seconds"`
	ToolDefaultSeconds int `yaml:"tool_default_timeout_seconds" koanf:"tool_default_timeout_seconds"`
	HookDefaultSeconds int `yaml:"hook_default_timeout_seconds" koanf:"hook_default_timeout_seconds"`
}

// BackendConfig is one configured LLM backend, mirroring llm.Backend.
type BackendConfig struct {
	Endpoint   string `yaml:"endpoint" koanf:"endpoint"`
	APIKey     string `yaml:"api_key" koanf:"api_key"`
	Model      string `yaml:"model" koanf:"model"`
	Multimodal bool   `yaml:"multimodal" koanf:"multimodal"`
}

// LLMConfig is the pool of backends the LLM client round-robins across.
type LLMConfig struct {
	Backends []BackendConfig `yaml:"backends" koanf:"backends"`
}

// RuntimeConfig is the fully-resolved configuration surface a server process
// needs to construct every component from pkg/memory through pkg/agent.
type RuntimeConfig struct {
	Server                        ServerConfig   `yaml:"server" koanf:"server"`
	Memory                        MemoryConfig   `yaml:"memory" koanf:"memory"`
	Agent                         AgentConfig    `yaml:"agent" koanf:"agent"`
	Timeouts                      TimeoutsConfig `yaml:"timeouts" koanf:"timeouts"`
	LongResponseMaxContinuations  int            `yaml:"long_response_max_continuations" koanf:"long_response_max_continuations"`
	LLM                           LLMConfig      `yaml:"llm" koanf:"llm"`
	SystemPrompt                  string         `yaml:"system_prompt" koanf:"system_prompt"`
	SkillPaths                    []string       `yaml:"skill_paths" koanf:"skill_paths"`

	Observability observability.Config `yaml:"observability" koanf:"observability"`
}

// ValidationError is raised when a loaded RuntimeConfig fails a structural
// sanity check (e.g. no LLM backends configured).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SetDefaults fills every zero-valued field with the runtime's defaults,
// mirroring the teacher's Config.SetDefaults idiom (pkg/config/config.go):
// fields explicitly set by the loaded file or environment are left alone.
func (c *RuntimeConfig) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Memory.TTLSeconds == 0 {
		c.Memory.TTLSeconds = 3600
	}
	if c.Memory.MaxItems == 0 {
		c.Memory.MaxItems = 10000
	}
	if c.Memory.AutoCleanIntervalSeconds == 0 {
		c.Memory.AutoCleanIntervalSeconds = 300
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 100
	}
	if c.Timeouts.RequestIdleSeconds == 0 {
		c.Timeouts.RequestIdleSeconds = 60
	}
	if c.Timeouts.LLMRequestSeconds == 0 {
		c.Timeouts.LLMRequestSeconds = 60
	}
	if c.Timeouts.ToolDefaultSeconds == 0 {
		c.Timeouts.ToolDefaultSeconds = 30
	}
	if c.Timeouts.HookDefaultSeconds == 0 {
		c.Timeouts.HookDefaultSeconds = 10
	}
	if c.LongResponseMaxContinuations == 0 {
		c.LongResponseMaxContinuations = 3
	}
	c.Observability.SetDefaults()
}

// Validate enforces the structural minimum a server needs to start.
func (c *RuntimeConfig) Validate() error {
	if len(c.LLM.Backends) == 0 {
		return &ValidationError{Field: "llm.backends", Message: "at least one backend is required"}
	}
	for i, b := range c.LLM.Backends {
		if b.Endpoint == "" {
			return &ValidationError{Field: fmt.Sprintf("llm.backends[%d].endpoint", i), Message: "required"}
		}
	}
	if err := c.Observability.Validate(); err != nil {
		return &ValidationError{Field: "observability", Message: err.Error()}
	}
	return nil
}

func (c *TimeoutsConfig) llmRequestTimeout() time.Duration {
	return time.Duration(c.LLMRequestSeconds) * time.Second
}

// LLMRequestTimeout is the configured per-LLM-call timeout as a Duration.
func (c *RuntimeConfig) LLMRequestTimeout() time.Duration { return c.Timeouts.llmRequestTimeout() }

// ToolDefaultTimeout is the configured default per-tool-invocation timeout.
func (c *RuntimeConfig) ToolDefaultTimeout() time.Duration {
	return time.Duration(c.Timeouts.ToolDefaultSeconds) * time.Second
}

// HookDefaultTimeout is the configured default per-hook-handler timeout.
func (c *RuntimeConfig) HookDefaultTimeout() time.Duration {
	return time.Duration(c.Timeouts.HookDefaultSeconds) * time.Second
}

// RequestIdleTimeout is the SSE idle-terminal timeout.
func (c *RuntimeConfig) RequestIdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.RequestIdleSeconds) * time.Second
}

// MemoryTTL is the per-session eviction threshold.
func (c *RuntimeConfig) MemoryTTL() time.Duration {
	return time.Duration(c.Memory.TTLSeconds) * time.Second
}

// AutoCleanInterval is the memory pool's eviction sweep cadence.
func (c *RuntimeConfig) AutoCleanInterval() time.Duration {
	return time.Duration(c.Memory.AutoCleanIntervalSeconds) * time.Second
}
