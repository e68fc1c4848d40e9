package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

var (
	envVarWithDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`)
	envVarBraced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
)

// expandEnvVars resolves ${VAR} and ${VAR:-default} references against the
// process environment, the way the teacher's pkg/config/env.go does for its
// YAML values (trimmed to the braced forms; api_key and endpoint are the
// only fields that ever carry a reference in practice).
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	s = envVarWithDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarWithDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
	s = envVarBraced.ReplaceAllStringFunc(s, func(match string) string {
		parts := envVarBraced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})
	return s
}

// expandEnvVarsInData walks a koanf-decoded tree (maps/slices/strings from
// YAML) and expands ${VAR}/${VAR:-default} references in every string leaf.
func expandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		return expandEnvVars(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = expandEnvVarsInData(val)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = expandEnvVarsInData(val)
		}
		return out
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env from the current directory into
// the process environment, if present, before Load reads the YAML config
// and koanf's environment provider takes its snapshot. A missing file is
// not an error; a malformed one is.
func LoadEnvFiles() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}
