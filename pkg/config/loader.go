package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix every environment-variable override must carry,
// in upper case; ALPHORA_SERVER_ADDR overrides server.addr.
const envPrefix = "ALPHORA_"

// Load reads path as YAML, then layers environment variable overrides on
// top (ALPHORA_SECTION_FIELD: the rest of the name after the prefix is
// lower-cased and every underscore becomes a path separator, so a key that
// itself contains an underscore cannot be overridden this way), applies
// defaults, and validates the result. Loading a
// ".env"/".env.local" file first, if present, is the caller's
// responsibility via LoadEnvFiles.
func Load(path string) (*RuntimeConfig, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}

	expanded := expandEnvVarsInData(k.Raw())
	k = koanf.New(".")
	if m, ok := expanded.(map[string]any); ok {
		if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
			return nil, fmt.Errorf("config: apply env var expansion: %w", err)
		}
	}

	envProvider := env.Provider(env.Opts{
		Prefix:        envPrefix,
		TransformFunc: envKeyTransform,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment overrides: %w", err)
	}

	cfg := &RuntimeConfig{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeyTransform turns ALPHORA_LLM_BACKENDS_0_ENDPOINT into
// llm.backends.0.endpoint, koanf's dotted-path convention. The value is
// passed through unchanged; only the key needs reshaping.
func envKeyTransform(key, value string) (string, any) {
	trimmed := strings.TrimPrefix(key, envPrefix)
	dotted := strings.ReplaceAll(strings.ToLower(trimmed), "_", ".")
	return dotted, value
}
