// Package config loads dialogue definitions from YAML or JSON documents,
// applies the documented defaults and validates the result.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/hupe1980/colloquy/core"
)

// Load reads a dialogue definition from a YAML or JSON file.
func Load(path string) (*core.DialogueConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a dialogue definition. JSON is accepted as a YAML subset.
// Unknown fields are rejected so typos do not silently fall back to defaults.
func Parse(data []byte) (*core.DialogueConfig, error) {
	var cfg core.DialogueConfig
	if err := yaml.UnmarshalWithOptions(data, &cfg, yaml.DisallowUnknownField()); err != nil {
		return nil, &core.ConfigurationError{Message: yaml.FormatError(err, false, true)}
	}
	Defaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Defaults applies the documented defaults to every unset option.
func Defaults(cfg *core.DialogueConfig) {
	for i := range cfg.Agents {
		cfg.Agents[i].ID = strings.TrimSpace(cfg.Agents[i].ID)
		if cfg.Agents[i].Name == "" {
			cfg.Agents[i].Name = cfg.Agents[i].ID
		}
	}
	cfg.ApplyDefaults()
}

// Marshal renders a configuration as YAML.
func Marshal(cfg *core.DialogueConfig) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}
