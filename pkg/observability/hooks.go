package observability

import (
	"sync"
	"time"

	"github.com/opencmit/alphora/pkg/hook"
	"github.com/opencmit/alphora/pkg/tool"
)

// RegisterHooks attaches Metrics recording to an agent/tool lifecycle bus.
// It is the observability equivalent of the teacher's metricsMiddleware for
// HTTP: instead of wrapping a handler, it subscribes to the events agent.Run
// and tool.Executor already emit.
func RegisterHooks(bus *hook.Bus, m *Metrics) {
	if bus == nil || m == nil {
		return
	}

	var started sync.Map // agent_id -> time.Time

	bus.Register(hook.AgentBeforeRun, func(ctx hook.Context) (hook.Result, error) {
		m.IncAgentActiveRuns()
		if id, ok := ctx.Data["agent_id"].(string); ok {
			started.Store(id, time.Now())
		}
		return hook.Result{}, nil
	})

	bus.Register(hook.AgentAfterRun, func(ctx hook.Context) (hook.Result, error) {
		m.DecAgentActiveRuns()
		id, _ := ctx.Data["agent_id"].(string)
		start, ok := started.LoadAndDelete(id)
		var d time.Duration
		if ok {
			d = time.Since(start.(time.Time))
		}
		m.RecordAgentCall(id, d, nil)
		return hook.Result{}, nil
	})

	bus.Register(hook.ToolsAfterExecute, func(ctx hook.Context) (hook.Result, error) {
		results, ok := ctx.Data["results"].([]tool.Result)
		if !ok {
			return hook.Result{}, nil
		}
		// One batch duration covers every call in it (pkg/tool/executor.go
		// runs TOOLS_AFTER_EXECUTE once per Execute batch, not per call).
		d, _ := ctx.Data["duration"].(time.Duration)
		for _, r := range results {
			m.RecordToolCall(r.ToolName, string(r.Status), d, r.ErrorType)
		}
		return hook.Result{}, nil
	})
}
