package hook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmit_RunsInDescendingPriorityOrder(t *testing.T) {
	b := New(0, nil)
	var order []string

	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		order = append(order, "low")
		return Result{}, nil
	}, WithPriority(0))
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		order = append(order, "high")
		return Result{}, nil
	}, WithPriority(10))

	require.NoError(t, b.Emit(context.Background(), AgentBeforeRun, Context{Event: AgentBeforeRun}))
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestEmit_WhenPredicateSkipsHandler(t *testing.T) {
	b := New(0, nil)
	ran := false
	b.Register(AgentBeforeIteration, func(ctx Context) (Result, error) {
		ran = true
		return Result{}, nil
	}, WithWhen(func(ctx Context) bool {
		return ctx.Data["iteration"] == 1
	}))

	require.NoError(t, b.Emit(context.Background(), AgentBeforeIteration, Context{Data: map[string]any{"iteration": 2}}))
	assert.False(t, ran)

	require.NoError(t, b.Emit(context.Background(), AgentBeforeIteration, Context{Data: map[string]any{"iteration": 1}}))
	assert.True(t, ran)
}

func TestEmit_StopPropagationHaltsRemainingHandlers(t *testing.T) {
	b := New(0, nil)
	var order []string
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		order = append(order, "first")
		return Result{StopPropagation: true}, nil
	}, WithPriority(10))
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		order = append(order, "second")
		return Result{}, nil
	}, WithPriority(0))

	require.NoError(t, b.Emit(context.Background(), AgentBeforeRun, Context{}))
	assert.Equal(t, []string{"first"}, order)
}

func TestEmit_FailClose_AbortsAndReturnsError(t *testing.T) {
	b := New(0, nil)
	ranSecond := false
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		return Result{}, errors.New("boom")
	}, WithPriority(10), WithErrorPolicy(FailClose))
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		ranSecond = true
		return Result{}, nil
	}, WithPriority(0))

	err := b.Emit(context.Background(), AgentBeforeRun, Context{})
	require.Error(t, err)
	assert.False(t, ranSecond)
}

func TestEmit_FailOpen_LogsAndContinues(t *testing.T) {
	b := New(0, nil)
	ranSecond := false
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		return Result{}, errors.New("boom")
	}, WithPriority(10), WithErrorPolicy(FailOpen))
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		ranSecond = true
		return Result{}, nil
	}, WithPriority(0))

	require.NoError(t, b.Emit(context.Background(), AgentBeforeRun, Context{}))
	assert.True(t, ranSecond)
}

func TestEmit_HandlerTimeoutIsTreatedAsFailure(t *testing.T) {
	b := New(0, nil)
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		time.Sleep(50 * time.Millisecond)
		return Result{}, nil
	}, WithTimeout(5*time.Millisecond), WithErrorPolicy(FailClose))

	err := b.Emit(context.Background(), AgentBeforeRun, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestEmit_HandlerPanicIsRecoveredAsFailure(t *testing.T) {
	b := New(0, nil)
	b.Register(AgentBeforeRun, func(ctx Context) (Result, error) {
		panic("kaboom")
	}, WithErrorPolicy(FailClose))

	err := b.Emit(context.Background(), AgentBeforeRun, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}
