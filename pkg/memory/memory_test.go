package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/tool"
)

func TestBuildHistory_RoundWindowing(t *testing.T) {
	m := NewManager()
	m.AddSystem("s1", "you are a bot")
	for i := 0; i < 5; i++ {
		m.AddUser("s1", "hi")
		m.AddAssistant("s1", "hello", nil)
	}

	got, err := m.BuildHistory("s1", FormatMessages, 2, false)
	require.NoError(t, err)
	msgs := got.([]message.Message)
	// 1 system + 2 rounds * 2 messages
	assert.Len(t, msgs, 5)
	assert.Equal(t, message.RoleSystem, msgs[0].Role)
}

func TestBuildHistory_OrphanToolMessageIsMalformed(t *testing.T) {
	m := NewManager()
	m.AddUser("s1", "run the tool")
	require.NoError(t, m.AddToolResult("s1", []tool.Result{{CallID: "nope", Content: "x", Status: tool.StatusSuccess}}))

	_, err := m.BuildHistory("s1", FormatMessages, 0, false)
	require.Error(t, err)
	var target *MalformedHistoryError
	assert.ErrorAs(t, err, &target)
}

func TestBuildHistory_WellFormedToolRoundSucceeds(t *testing.T) {
	m := NewManager()
	m.AddUser("s1", "add 1 and 2")
	m.AddAssistant("s1", "", []message.ToolCall{{ID: "call_1", Name: "add", Arguments: map[string]any{"a": 1, "b": 2}}})
	require.NoError(t, m.AddToolResult("s1", []tool.Result{{CallID: "call_1", Content: "3", Status: tool.StatusSuccess}}))

	got, err := m.BuildHistory("s1", FormatMessages, 0, false)
	require.NoError(t, err)
	msgs := got.([]message.Message)
	require.Len(t, msgs, 3)
	assert.Equal(t, message.RoleTool, msgs[2].Role)
}

func TestSearch_ScoresByTokenOverlap(t *testing.T) {
	m := NewManager()
	m.AddUser("s1", "the quick brown fox")
	m.AddUser("s1", "jumps over the lazy dog")
	m.AddUser("s1", "completely unrelated text")

	results := m.Search("s1", "quick fox", 2)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "quick brown fox")
}

func TestSaveAndLoadHistory_RoundTrips(t *testing.T) {
	m := NewManager()
	m.AddUser("s1", "hello\nworld")
	m.AddAssistant("s1", "hi there", nil)

	path := filepath.Join(t.TempDir(), "history.txt")
	require.NoError(t, m.SaveHistory("s1", path))

	m2 := NewManager()
	require.NoError(t, m2.LoadHistory("s2", path))

	got, err := m2.BuildHistory("s2", FormatMessages, 0, false)
	require.NoError(t, err)
	msgs := got.([]message.Message)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello\nworld", msgs[0].Content)
}

func TestClear_RemovesSession(t *testing.T) {
	m := NewManager()
	m.AddUser("s1", "hi")
	m.Clear("s1")

	got, err := m.BuildHistory("s1", FormatMessages, 0, false)
	require.NoError(t, err)
	assert.Empty(t, got.([]message.Message))
}

func TestPool_GetOrCreate_GeneratesUUIDWhenEmpty(t *testing.T) {
	p := NewPool(10, 0, 0)
	id, handle := p.GetOrCreate("", func() any { return NewManager() })
	assert.NotEmpty(t, id)
	assert.NotNil(t, handle)

	id2, handle2 := p.GetOrCreate(id, func() any { t.Fatal("factory should not run for existing session"); return nil })
	assert.Equal(t, id, id2)
	assert.Same(t, handle, handle2)
}

func TestPool_EvictsLeastRecentlyUsedOverCapacity(t *testing.T) {
	p := NewPool(2, 0, 0)
	p.GetOrCreate("a", func() any { return 1 })
	p.GetOrCreate("b", func() any { return 2 })
	p.GetOrCreate("a", func() any { return 1 }) // touch a, making b the LRU
	p.GetOrCreate("c", func() any { return 3 }) // evicts b

	assert.Equal(t, 2, p.Len())
	_, bHandle := p.GetOrCreate("b", func() any { return "recreated" })
	assert.Equal(t, "recreated", bHandle)
}

func TestPool_SweepEvictsByTTL(t *testing.T) {
	p := NewPool(0, 10*time.Millisecond, 0)
	fixed := time.Now()
	p.now = func() time.Time { return fixed }
	p.GetOrCreate("a", func() any { return 1 })

	p.now = func() time.Time { return fixed.Add(50 * time.Millisecond) }
	p.sweep()

	assert.Equal(t, 0, p.Len())
}

func TestPool_Close_StopsSweepGoroutineWithoutPanicking(t *testing.T) {
	p := NewPool(10, time.Millisecond, time.Millisecond)
	p.GetOrCreate("a", func() any { return 1 })
	time.Sleep(5 * time.Millisecond)
	p.Close()
}
