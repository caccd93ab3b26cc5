// Package config loads the oxifuzz configuration file. The file supplies
// defaults; command-line flags always override it.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the oxifuzz configuration
type Config struct {
	Framework FrameworkConfig `yaml:"framework"`
	Fuzz      FuzzConfig      `yaml:"fuzz"`
	HTTP      HTTPConfig      `yaml:"http"`
	Reporting ReportingConfig `yaml:"reporting"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FrameworkConfig contains general settings
type FrameworkConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// FuzzConfig contains substitution defaults
type FuzzConfig struct {
	// Target is the marker replaced in templates.
	Target string `yaml:"target"`
	// ExecTarget is the marker replaced in argv, URLs, headers and JWT
	// headers.
	ExecTarget string `yaml:"exec_target"`
	// WordListTerm splits word-list files into words.
	WordListTerm string `yaml:"word_list_term"`
	// NRuns is the default iteration count.
	NRuns int `yaml:"n_runs"`
	// NThreads is the default worker count.
	NThreads int `yaml:"n_threads"`
	// DelayMS sleeps after each emitted result.
	DelayMS int `yaml:"delay_ms"`
}

// HTTPConfig contains HTTP runner defaults
type HTTPConfig struct {
	Method    string `yaml:"method"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ReportingConfig contains run log settings
type ReportingConfig struct {
	// RunLog is the JSONL per-iteration log path. Empty disables it.
	RunLog string `yaml:"run_log"`
}

// MetricsConfig contains the Prometheus listener settings
type MetricsConfig struct {
	// Listen is the address for the /metrics endpoint. Empty disables it.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Framework: FrameworkConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Fuzz: FuzzConfig{
			Target:       "OXIFUZZ",
			ExecTarget:   "OXIFUZZ",
			WordListTerm: "\n",
			NRuns:        1,
			NThreads:     1,
		},
		HTTP: HTTPConfig{
			Method:    "GET",
			TimeoutMS: 30000,
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "oxifuzz.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to a YAML file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Fuzz.Target == "" {
		return fmt.Errorf("fuzz.target must not be empty")
	}
	if c.Fuzz.NRuns < 1 {
		return fmt.Errorf("fuzz.n_runs must be at least 1")
	}
	if c.Fuzz.NThreads < 1 {
		return fmt.Errorf("fuzz.n_threads must be at least 1")
	}
	if c.Fuzz.DelayMS < 0 {
		return fmt.Errorf("fuzz.delay_ms must not be negative")
	}
	if c.HTTP.TimeoutMS < 1 {
		return fmt.Errorf("http.timeout_ms must be at least 1")
	}
	return nil
}
