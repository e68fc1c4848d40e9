package skill

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/opencmit/alphora/pkg/tool"
)

// Mode selects how discovered skills are exposed to the model.
type Mode int

const (
	// ModeActivation injects a catalogue into the system prompt and
	// registers list_skills/read_skill/read_skill_resource tools.
	ModeActivation Mode = iota
	// ModeFilesystem registers raw filesystem-path tools instead, leaving
	// the model (or a sandbox) to read files itself.
	ModeFilesystem
)

// Manager holds the discovered skill set and wires it into a tool registry
// according to its configured Mode.
type Manager struct {
	mode   Mode
	skills map[string]*Skill
	order  []string
}

// NewManager builds a Manager from already-discovered skills.
func NewManager(mode Mode, skills []*Skill) *Manager {
	m := &Manager{mode: mode, skills: map[string]*Skill{}}
	for _, s := range skills {
		if _, exists := m.skills[s.Manifest.Name]; exists {
			continue
		}
		m.skills[s.Manifest.Name] = s
		m.order = append(m.order, s.Manifest.Name)
	}
	return m
}

// Catalogue renders the "available skills" block injected into the system
// prompt in activation mode. Empty if there are no skills or the mode is
// filesystem.
func (m *Manager) Catalogue() string {
	if m.mode != ModeActivation || len(m.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available skills:\n")
	for _, name := range m.order {
		s := m.skills[name]
		fmt.Fprintf(&b, "- %s: %s\n", s.Manifest.Name, s.Manifest.Description)
	}
	return b.String()
}

// RegisterTools wires this Manager's tools into reg according to Mode.
func (m *Manager) RegisterTools(reg *tool.Registry) error {
	switch m.mode {
	case ModeActivation:
		return m.registerActivationTools(reg)
	case ModeFilesystem:
		return m.registerFilesystemTools(reg)
	default:
		return fmt.Errorf("skill: unknown mode %d", m.mode)
	}
}

func (m *Manager) registerActivationTools(reg *tool.Registry) error {
	type listArgs struct{}
	if err := reg.Register(tool.Descriptor{
		Name:        "list_skills",
		Description: "List the names and short descriptions of all available skills.",
		Schema:      tool.ToSchema(listArgs{}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			out := make([]map[string]string, 0, len(m.order))
			for _, name := range m.order {
				s := m.skills[name]
				out = append(out, map[string]string{"name": s.Manifest.Name, "description": s.Manifest.Description})
			}
			return out, nil
		},
	}, ""); err != nil {
		return err
	}

	type readArgs struct {
		Name string `json:"name" jsonschema_description:"the skill name as returned by list_skills"`
	}
	if err := reg.Register(tool.Descriptor{
		Name:        "read_skill",
		Description: "Read the full instructions for a named skill.",
		Schema:      tool.ToSchema(readArgs{}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			s, ok := m.skills[name]
			if !ok {
				return nil, fmt.Errorf("unknown skill: %s", name)
			}
			return s.Body, nil
		},
	}, ""); err != nil {
		return err
	}

	type readResourceArgs struct {
		Name string `json:"name" jsonschema_description:"the skill name as returned by list_skills"`
		Path string `json:"path" jsonschema_description:"path to a resource file, relative to the skill directory"`
	}
	return reg.Register(tool.Descriptor{
		Name:        "read_skill_resource",
		Description: "Read a resource file bundled alongside a skill's instructions.",
		Schema:      tool.ToSchema(readResourceArgs{}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			rel, _ := args["path"].(string)
			s, ok := m.skills[name]
			if !ok {
				return nil, fmt.Errorf("unknown skill: %s", name)
			}
			resolved, err := resolveResourcePath(s.Dir, rel)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("reading resource: %w", err)
			}
			return string(data), nil
		},
	}, "")
}

// registerFilesystemTools exposes each skill's directory as a path the model
// is told to read directly, without a catalogue or read-through tools.
func (m *Manager) registerFilesystemTools(reg *tool.Registry) error {
	type listArgs struct{}
	return reg.Register(tool.Descriptor{
		Name:        "list_skill_paths",
		Description: "List filesystem paths of available skill directories, each containing a SKILL.md to read directly.",
		Schema:      tool.ToSchema(listArgs{}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			out := make([]map[string]string, 0, len(m.order))
			for _, name := range m.order {
				s := m.skills[name]
				out = append(out, map[string]string{
					"name": s.Manifest.Name,
					"path": s.Dir,
				})
			}
			return out, nil
		},
	}, "")
}

// Skills returns every loaded skill, in discovery order.
func (m *Manager) Skills() []*Skill {
	out := make([]*Skill, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.skills[name])
	}
	return out
}
