// Package skill discovers manifest-described skill directories under
// configured search roots and exposes them to the agent either as an
// "available skills" catalogue plus read-through tools (activation mode) or
// as raw filesystem tools the model reads from directly (filesystem mode).
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is a skill's front-matter declaration.
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	License     string            `yaml:"license,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
}

// Skill is a discovered skill directory paired with its parsed manifest and
// the full instruction body that followed the front matter.
type Skill struct {
	Manifest Manifest
	// Dir is the absolute path to the skill's directory.
	Dir string
	// Body is the manifest file's content after the front matter delimiter,
	// the full instructions injected by read_skill.
	Body string
}

// ManifestError wraps a manifest that failed to parse or failed validation.
type ManifestError struct {
	Path    string
	Message string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("skill manifest %s: %s", e.Path, e.Message)
}

const manifestFile = "SKILL.md"
const frontMatterDelim = "---"

// DiscoveryConfig controls where Discover looks for skills.
type DiscoveryConfig struct {
	// Paths are search roots; each may itself be a skill directory (contains
	// SKILL.md directly) or a directory of skill subdirectories.
	Paths []string
}

// Discover scans cfg.Paths for skill directories, expanding a leading "~"
// and silently skipping roots that don't exist. Directories whose manifest
// fails to parse are skipped with the error surfaced in the returned slice's
// companion error, not fatal to the overall scan.
func Discover(cfg DiscoveryConfig) ([]*Skill, error) {
	seen := map[string]bool{}
	var out []*Skill
	var errs []error

	for _, root := range cfg.Paths {
		expanded, err := expandHome(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		info, err := os.Stat(expanded)
		if err != nil {
			continue // nonexistent search root, skip
		}
		if !info.IsDir() {
			continue
		}

		// A root that is itself a skill directory.
		if _, err := os.Stat(filepath.Join(expanded, manifestFile)); err == nil {
			s, err := loadSkill(expanded)
			if err != nil {
				errs = append(errs, err)
			} else if !seen[s.Dir] {
				seen[s.Dir] = true
				out = append(out, s)
			}
			continue
		}

		entries, err := os.ReadDir(expanded)
		if err != nil {
			errs = append(errs, fmt.Errorf("reading search root %s: %w", expanded, err))
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(expanded, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, manifestFile)); err != nil {
				continue
			}
			s, err := loadSkill(dir)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if seen[s.Dir] {
				continue
			}
			seen[s.Dir] = true
			out = append(out, s)
		}
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("skill discovery: %d error(s), first: %w", len(errs), errs[0])
	}
	return out, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

func loadSkill(dir string) (*Skill, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	manifestPath := filepath.Join(abs, manifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestError{Path: manifestPath, Message: err.Error()}
	}

	front, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, &ManifestError{Path: manifestPath, Message: err.Error()}
	}

	var m Manifest
	if err := yaml.Unmarshal([]byte(front), &m); err != nil {
		return nil, &ManifestError{Path: manifestPath, Message: fmt.Sprintf("parsing front matter: %v", err)}
	}
	if m.Name == "" {
		return nil, &ManifestError{Path: manifestPath, Message: "missing required field: name"}
	}
	if m.Description == "" {
		return nil, &ManifestError{Path: manifestPath, Message: "missing required field: description"}
	}

	return &Skill{Manifest: m, Dir: abs, Body: body}, nil
}

// splitFrontMatter separates a "---\n...yaml...\n---\n" header from the
// trailing body. A file with no front-matter delimiter is rejected.
func splitFrontMatter(content string) (front, body string, err error) {
	lines := strings.SplitN(content, "\n", -1)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelim {
		return "", "", fmt.Errorf("manifest must begin with a %q front matter delimiter", frontMatterDelim)
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelim {
			front = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			return strings.TrimSpace(front), strings.TrimSpace(body), nil
		}
	}
	return "", "", fmt.Errorf("manifest front matter is not terminated by a closing %q", frontMatterDelim)
}

// resolveResourcePath joins a skill directory with a relative resource path,
// rejecting traversal outside the skill directory.
func resolveResourcePath(skillDir, rel string) (string, error) {
	joined := filepath.Join(skillDir, rel)
	cleanDir := filepath.Clean(skillDir) + string(filepath.Separator)
	cleanJoined := filepath.Clean(joined)
	if cleanJoined != filepath.Clean(skillDir) && !strings.HasPrefix(cleanJoined+string(filepath.Separator), cleanDir) {
		return "", fmt.Errorf("resource path %q escapes skill directory", rel)
	}
	return cleanJoined, nil
}
