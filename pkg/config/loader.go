package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRefPattern matches ${VAR} and ${VAR:-fallback} references in config
// files.
var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadRuntimeConfig reads a RuntimeConfig from a YAML file, layering the
// file's values over NewRuntimeConfig defaults and validating the result.
// The instance name defaults to the file's base name when the file does
// not set one.
func LoadRuntimeConfig(path string) (*RuntimeConfig, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cfg := NewRuntimeConfig(name)

	if err := Load(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads a YAML file into config after expanding environment
// references.
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller and validated
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Save writes config to a YAML file.
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnv replaces ${VAR} references with environment values and
// ${VAR:-fallback} references with the fallback when VAR is unset or
// empty.
func expandEnv(content string) string {
	return envRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		groups := envRefPattern.FindStringSubmatch(ref)
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		return groups[2]
	})
}
