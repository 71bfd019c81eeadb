// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the scanforge
// worker.
//
// Configuration is loaded from a single YAML file specified by the
// SCANFORGE_CONFIG environment variable or the --config flag. There
// are no fallbacks or automatic discovery: deterministic, auditable
// configuration with no hidden overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvVar is the environment variable naming the config file.
const EnvVar = "SCANFORGE_CONFIG"

// Config is the worker configuration.
type Config struct {
	// Socket is the Unix socket path the worker serves the message
	// protocol on.
	Socket string `yaml:"socket"`

	// StateDir is the root for all persistent and scratch state: the
	// cache database, the mounted cache directory, the extracted
	// rules, the persisted archive, and the scan scratch area.
	StateDir string `yaml:"state_dir"`

	// Rules configures the corpus source.
	Rules RulesConfig `yaml:"rules"`

	// Engine configures the analyzer collaborator.
	Engine EngineConfig `yaml:"engine"`
}

// RulesConfig configures where the rule corpus archive comes from.
type RulesConfig struct {
	// ArchiveURL is the distribution endpoint for the gzip tarball.
	ArchiveURL string `yaml:"archive_url"`
}

// EngineConfig configures the external analyzer.
type EngineConfig struct {
	// BinaryPath is the analyzer binary the worker shells out to.
	BinaryPath string `yaml:"binary_path"`
}

// Load reads and validates the config file at path. When path is
// empty, the SCANFORGE_CONFIG environment variable names the file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file (set %s or pass --config)", EnvVar)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that every required field is set.
func (c *Config) Validate() error {
	if c.Socket == "" {
		return fmt.Errorf("socket is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	if c.Rules.ArchiveURL == "" {
		return fmt.Errorf("rules.archive_url is required")
	}
	if c.Engine.BinaryPath == "" {
		return fmt.Errorf("engine.binary_path is required")
	}
	return nil
}

// Fixed layout under StateDir. Everything the worker persists lives
// here; deleting StateDir resets the worker to a first-run state.

// DatabasePath is the cache database file.
func (c *Config) DatabasePath() string { return filepath.Join(c.StateDir, "cache.db") }

// CacheDir is the mounted working directory of the persistent cache.
func (c *Config) CacheDir() string { return filepath.Join(c.StateDir, "cache") }

// RulesDir is the extracted corpus working directory.
func (c *Config) RulesDir() string { return filepath.Join(c.StateDir, "rules") }

// ArchivePath is the fixed path the raw corpus archive is persisted at.
func (c *Config) ArchivePath() string { return filepath.Join(c.StateDir, "rules.tar.gz") }

// ScratchDir is where scan inputs are staged for the engine.
func (c *Config) ScratchDir() string { return filepath.Join(c.StateDir, "scratch") }
