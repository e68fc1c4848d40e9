package streamer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/pkg/stream"
)

func TestSendThenStop_FramesEndsWithTerminal(t *testing.T) {
	s := New("test-model", 4, 0)
	ctx := context.Background()

	s.Send(ctx, "char", "Hello, ")
	s.Send(ctx, "char", "world.")
	s.Stop("stop")

	var frames []Frame
	for f := range s.Frames(ctx) {
		frames = append(frames, f)
	}

	require.Len(t, frames, 3)
	assert.Equal(t, "Hello, ", frames[0].Choices[0].Delta.Content)
	assert.Equal(t, "world.", frames[1].Choices[0].Delta.Content)
	require.NotNil(t, frames[2].Choices[0].FinishReason)
	assert.Equal(t, "stop", *frames[2].Choices[0].FinishReason)
}

func TestSendAfterStop_IsNoOp(t *testing.T) {
	s := New("m", 4, 0)
	ctx := context.Background()
	s.Stop("stop")
	s.Send(ctx, "char", "too late")

	var frames []Frame
	for f := range s.Frames(ctx) {
		frames = append(frames, f)
	}
	require.Len(t, frames, 1)
}

func TestCollect_ConcatenatesNonTerminalContent(t *testing.T) {
	s := New("m", 4, 0)
	ctx := context.Background()
	go func() {
		s.Send(ctx, "char", "a")
		s.Send(ctx, "char", "b")
		s.Stop("stop")
	}()

	content, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ab", content)
}

func TestFrames_IdleTimeoutEmitsTerminalFrame(t *testing.T) {
	s := New("m", 4, 10*time.Millisecond)
	ctx := context.Background()

	var frames []Frame
	for f := range s.Frames(ctx) {
		frames = append(frames, f)
	}

	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].Choices[0].FinishReason)
	assert.Equal(t, "timeout", *frames[0].Choices[0].FinishReason)
}

func TestForward_PumpsStreamIntoStreamerAndSkipsSentinels(t *testing.T) {
	s := New("m", 8, 0)
	chunks := []stream.Chunk{
		{Content: "He", ContentType: stream.CharType},
		{Content: "llo", ContentType: stream.CharType},
		{Content: "hidden", ContentType: stream.StreamIgnore},
	}
	cs := stream.FromSlice(chunks).WithFinishReason(func() string { return "stop" })

	ctx := context.Background()
	go func() {
		_ = Forward(ctx, s, cs)
	}()

	content, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Hello", content)
}
