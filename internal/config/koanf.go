package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix recognized on environment variable overrides.
const EnvPrefix = "VIGIL"

// Load reads configuration from the optional YAML file at path and VIGIL_*
// environment variables, layered over the built-in defaults.
//
// Precedence (highest to lowest): environment, YAML file, defaults.
// An empty path skips the file source; a non-empty path that does not
// exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", path, err)
		}
	}

	// Environment variables override the file. VIGIL_HTTP_PORT maps to
	// http.port; a known section name prefix (which may itself contain an
	// underscore, as motion_detection does) is split off and the rest is
	// the key.
	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix + "_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix+"_"))
			sections := []string{"http_", "websocket_", "motion_detection_", "recording_", "performance_", "logging_"}
			for _, sec := range sections {
				if strings.HasPrefix(key, sec) {
					return strings.TrimSuffix(sec, "_") + "." + strings.TrimPrefix(key, sec), value
				}
			}
			return strings.ReplaceAll(key, "_", "."), value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
