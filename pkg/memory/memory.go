// Package memory implements the per-session message transcript and the
// session pool that owns it: ordered append, round-bounded history
// construction, token-overlap search, and text dump/restore.
package memory

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencmit/alphora/pkg/message"
	"github.com/opencmit/alphora/pkg/tool"
)

// HistoryFormat selects build_history's output shape.
type HistoryFormat string

const (
	FormatMessages HistoryFormat = "messages"
	FormatText     HistoryFormat = "text"
)

// MalformedHistoryError is raised when a requested round window would
// produce an orphan tool message (a tool result with no preceding
// assistant tool_call in the window).
type MalformedHistoryError struct {
	Session string
}

func (e *MalformedHistoryError) Error() string {
	return fmt.Sprintf("memory: session %q would yield a history with an orphan tool message", e.Session)
}

type entry struct {
	msg MsgWithTime
}

// MsgWithTime pairs a Message with the time it was appended, used by
// build_history's include_timestamp rendering and by save_history's dump.
type MsgWithTime struct {
	message.Message
	At time.Time
}

// Session is one conversation's ordered transcript. All mutating methods
// are safe for concurrent use.
type Session struct {
	mu      sync.RWMutex
	entries []entry
}

func newSession() *Session {
	return &Session{}
}

func (s *Session) append(m message.Message, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{msg: MsgWithTime{Message: m, At: at}})
}

// All returns a snapshot of every message in the session, oldest first.
func (s *Session) All() []MsgWithTime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MsgWithTime, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

// Manager owns a fixed set of sessions (as distinct from Pool, which adds
// TTL/LRU eviction). Manager is what pkg/tool.MemoryAppender and the
// prompter talk to.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager constructs an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), now: time.Now}
}

func (m *Manager) session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		s = newSession()
		m.sessions[id] = s
	}
	return s
}

// AddUser appends a user-role message.
func (m *Manager) AddUser(session, content string) {
	m.session(session).append(*message.New(message.RoleUser, content), m.now())
}

// AddSystem appends a system-role message.
func (m *Manager) AddSystem(session, content string) {
	m.session(session).append(*message.New(message.RoleSystem, content), m.now())
}

// AddAssistant appends an assistant-role message, optionally carrying
// tool_calls the model requested.
func (m *Manager) AddAssistant(session, content string, toolCalls []message.ToolCall) {
	msg := *message.New(message.RoleAssistant, content)
	msg.ToolCalls = toolCalls
	m.session(session).append(msg, m.now())
}

// AddToolResult appends one tool-role message per result, each linked back
// to its originating call via ToolCallID. Implements tool.MemoryAppender.
func (m *Manager) AddToolResult(session string, results []tool.Result) error {
	s := m.session(session)
	now := m.now()
	for _, r := range results {
		msg := *message.New(message.RoleTool, r.Content)
		msg.ToolCallID = r.CallID
		s.append(msg, now)
	}
	return nil
}

// Clear drops a session's entire transcript.
func (m *Manager) Clear(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session)
}

// round is a maximal well-formed window: one user turn, the assistant turn
// that answered it (if any), and that assistant turn's tool results (if
// any). Leading system messages are carried separately.
type round struct {
	messages []MsgWithTime
}

// splitRounds partitions a transcript into system preamble + rounds, in
// chronological order. A round starts at each user message.
func splitRounds(all []MsgWithTime) (system []MsgWithTime, rounds []round) {
	var current *round
	for _, m := range all {
		switch m.Role {
		case message.RoleSystem:
			if current == nil {
				system = append(system, m)
				continue
			}
			current.messages = append(current.messages, m)
		case message.RoleUser:
			if current != nil {
				rounds = append(rounds, *current)
			}
			current = &round{messages: []MsgWithTime{m}}
		default:
			if current == nil {
				current = &round{}
			}
			current.messages = append(current.messages, m)
		}
	}
	if current != nil {
		rounds = append(rounds, *current)
	}
	return system, rounds
}

// BuildHistory returns the most recent maxRound rounds (0 means all), with
// a leading system preamble, rendered per format. include_timestamp only
// affects FormatText.
func (m *Manager) BuildHistory(session string, format HistoryFormat, maxRound int, includeTimestamp bool) (any, error) {
	all := m.session(session).All()
	system, rounds := splitRounds(all)

	if maxRound > 0 && len(rounds) > maxRound {
		rounds = rounds[len(rounds)-maxRound:]
	}

	if err := validateWellFormed(session, rounds); err != nil {
		return nil, err
	}

	switch format {
	case FormatText:
		return renderText(system, rounds, includeTimestamp), nil
	default:
		return renderMessages(system, rounds), nil
	}
}

// validateWellFormed enforces that no round contains a tool message without
// a preceding assistant message in the same round that issued a matching
// tool_call id.
func validateWellFormed(session string, rounds []round) error {
	for _, r := range rounds {
		issued := map[string]bool{}
		for _, m := range r.messages {
			if m.Role == message.RoleAssistant {
				for _, tc := range m.ToolCalls {
					issued[tc.ID] = true
				}
			}
			if m.Role == message.RoleTool && !issued[m.ToolCallID] {
				return &MalformedHistoryError{Session: session}
			}
		}
	}
	return nil
}

func renderMessages(system []MsgWithTime, rounds []round) []message.Message {
	out := make([]message.Message, 0, len(system)+len(rounds)*2)
	for _, m := range system {
		out = append(out, m.Message)
	}
	for _, r := range rounds {
		for _, m := range r.messages {
			out = append(out, m.Message)
		}
	}
	return out
}

func renderText(system []MsgWithTime, rounds []round, includeTimestamp bool) string {
	var b strings.Builder
	writeLine := func(m MsgWithTime) {
		if includeTimestamp {
			b.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.At.Format("2006-01-02 15:04"), m.Role, m.Content))
		} else {
			b.WriteString(fmt.Sprintf("%s: %s\n", m.Role, m.Content))
		}
	}
	for _, m := range system {
		writeLine(m)
	}
	for _, r := range rounds {
		for _, m := range r.messages {
			writeLine(m)
		}
	}
	return b.String()
}

// Search scores every message in session by token overlap against query and
// returns the top k, highest score first.
func (m *Manager) Search(session, query string, k int) []MsgWithTime {
	all := m.session(session).All()
	queryTokens := tokenSet(query)

	type scored struct {
		msg   MsgWithTime
		score int
	}
	results := make([]scored, 0, len(all))
	for _, m := range all {
		score := overlap(queryTokens, tokenSet(m.Content))
		if score > 0 {
			results = append(results, scored{msg: m, score: score})
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })

	if k > 0 && len(results) > k {
		results = results[:k]
	}
	out := make([]MsgWithTime, len(results))
	for i, r := range results {
		out[i] = r.msg
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for tok := range a {
		if b[tok] {
			n++
		}
	}
	return n
}

// SaveHistory dumps session's full transcript to path as a plain-text log,
// one "role\ttimestamp\tcontent" line per message.
func (m *Manager) SaveHistory(session, path string) error {
	all := m.session(session).All()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("memory: save history: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, msg := range all {
		line := fmt.Sprintf("%s\t%s\t%s\n", msg.Role, strconv.FormatInt(msg.At.Unix(), 10), strings.ReplaceAll(msg.Content, "\n", "\\n"))
		if _, err := w.WriteString(line); err != nil {
			return fmt.Errorf("memory: save history: %w", err)
		}
	}
	return w.Flush()
}

// LoadHistory replaces session's transcript with the contents of a file
// previously written by SaveHistory.
func (m *Manager) LoadHistory(session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("memory: load history: %w", err)
	}
	defer f.Close()

	m.Clear(session)
	s := m.session(session)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 3)
		if len(parts) != 3 {
			continue
		}
		unix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		content := strings.ReplaceAll(parts[2], "\\n", "\n")
		msg := *message.New(message.Role(parts[0]), content)
		s.append(msg, time.Unix(unix, 0))
	}
	return scanner.Err()
}
