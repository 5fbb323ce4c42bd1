package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// config is the optional YAML file behind --config. Flags win over file
// values.
type config struct {
	Headers   map[string]string `yaml:"headers"`
	UserAgent string            `yaml:"user_agent"`
	Source    string            `yaml:"source"`
	Insecure  bool              `yaml:"insecure"`
}

func loadConfig(path string) (*config, error) {
	var cfg config
	if path == "" {
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
