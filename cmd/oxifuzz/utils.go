package main

import (
	"fmt"

	"github.com/unlink2/oxifuzz/pkg/config"
)

// loadConfig loads the configuration file, falling back to defaults when
// no file exists.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
