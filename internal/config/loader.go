package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolve returns the process configuration. With an empty path only the
// built-in defaults are used; otherwise the file at path is loaded and its
// unset fields defaulted. The result is always validated.
func Resolve(path string) (*Config, error) {
	cfg := &Config{}
	source := "built-in defaults"
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg, source = loaded, path
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config (%s): %w", source, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without validating it.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path. Defaults are not applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML after expanding environment references. Both
// ${NAME} and ${NAME:-fallback} are supported; the fallback is used when
// NAME is unset or empty.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &cfg, nil
}

func expandEnv(s string) string {
	return os.Expand(s, func(ref string) string {
		name, fallback, _ := strings.Cut(ref, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
