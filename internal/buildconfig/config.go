// Copyright (C) 2026 Ariadne Build Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package buildconfig is the explicit configuration record called for in
// the design notes: one struct enumerating every tunable, loaded from YAML
// with environment overlay, rather than a large functional-option bag.
package buildconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the build-scoped configuration record. Every field here is
// named in the design notes; nothing is implicit or global.
type Config struct {
	MaxRetries          int           `yaml:"max_retries"`
	BaseRetryDelay      time.Duration `yaml:"base_retry_delay"`
	ContinueOnError     bool          `yaml:"continue_on_error"`
	MaxTurns            int           `yaml:"max_turns"`
	PhaseTimeout        time.Duration `yaml:"phase_timeout"`
	ResearchEnabled     bool          `yaml:"research_enabled"`
	MCPDiscoveryEnabled bool          `yaml:"mcp_discovery_enabled"`
	AutoConfirm         bool          `yaml:"auto_confirm"`
	StreamOutput        bool          `yaml:"stream_output"`
	SavePrompts         bool          `yaml:"save_prompts"`
	ModelAnalyzer       string        `yaml:"model_analyzer"`
	ModelExecutor       string        `yaml:"model_executor"`
	ModelResearch       string        `yaml:"model_research"`
	MinPhases           int           `yaml:"min_phases"`
	MinTasksPerPhase    int           `yaml:"min_tasks_per_phase"`
	CheckpointRetention int           `yaml:"checkpoint_retention"`

	OutputDir string `yaml:"output_dir"`
	TempDir   string `yaml:"temp_dir"`
	LogLevel  string `yaml:"log_level"`
	Force     bool   `yaml:"force"`
}

// Default returns the configuration the original Python settings module
// shipped as DEFAULT_CONFIG, translated field-for-field.
func Default() Config {
	return Config{
		MaxRetries:          3,
		BaseRetryDelay:      2 * time.Second,
		ContinueOnError:     false,
		MaxTurns:            30,
		PhaseTimeout:        10 * time.Minute,
		ResearchEnabled:     true,
		MCPDiscoveryEnabled: true,
		AutoConfirm:         false,
		StreamOutput:        true,
		SavePrompts:         true,
		ModelAnalyzer:       "claude-3-opus-20240229",
		ModelExecutor:       "claude-3-opus-20240229",
		ModelResearch:       "claude-3-opus-20240229",
		MinPhases:           5,
		MinTasksPerPhase:    1,
		CheckpointRetention: 20,

		OutputDir: "./output",
		TempDir:   os.TempDir(),
		LogLevel:  "INFO",
		Force:     false,
	}
}

// Load reads a YAML config file (if path is non-empty and exists), applies
// a .env overlay via godotenv, then environment-variable overrides on top
// of Default(), mirroring the source's from_dict/env precedence.
func Load(path string, envFile string) (Config, error) {
	cfg := Default()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARIADNE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("ARIADNE_CONTINUE_ON_ERROR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ContinueOnError = b
		}
	}
	if v := os.Getenv("ARIADNE_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("ARIADNE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARIADNE_PHASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PhaseTimeout = d
		}
	}
}

var validLogLevels = map[string]bool{
	"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true,
}

// Validate checks the configuration and, ported from the original
// BuilderConfig.validate, refuses to start a build into a non-empty output
// directory unless Force is set, and confirms the temp directory is
// writable.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.OutputDir != "" {
		if entries, err := os.ReadDir(c.OutputDir); err == nil && len(entries) > 0 && !c.Force {
			return fmt.Errorf("output directory %s is not empty, use --force to overwrite", c.OutputDir)
		}
	}
	if c.TempDir != "" {
		if err := os.MkdirAll(c.TempDir, 0o755); err != nil {
			return fmt.Errorf("cannot write to temp directory %s: %w", c.TempDir, err)
		}
		probe, err := os.CreateTemp(c.TempDir, "ariadne-probe-*")
		if err != nil {
			return fmt.Errorf("cannot write to temp directory %s: %w", c.TempDir, err)
		}
		name := probe.Name()
		probe.Close()
		os.Remove(name)
	}
	return nil
}
