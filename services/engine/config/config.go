// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the engine's yaml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the engine configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// DataDir roots project files and the embedded store. Filesystem
	// browsing never escapes it.
	DataDir string `yaml:"data_dir" validate:"required"`

	// ModulesDir holds installed analysis modules.
	ModulesDir string `yaml:"modules_dir" validate:"required"`

	// EngineSlots is the computation slot count.
	EngineSlots int `yaml:"engine_slots" validate:"gte=1,lte=64"`

	// RateLimit is the per-connection message budget: sustained
	// messages per second with the given burst.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	Log LogConfig `yaml:"log"`
}

// RateLimitConfig bounds inbound message rates per websocket
// connection.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Dir receives the log file when set; empty logs to stderr only.
	Dir string `yaml:"dir"`

	// JSON forces JSON output even on a terminal.
	JSON bool `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:      "127.0.0.1:41337",
		DataDir:     "~/.statengine/data",
		ModulesDir:  "~/.statengine/modules",
		EngineSlots: 3,
		RateLimit:   RateLimitConfig{PerSecond: 200, Burst: 400},
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads the yaml file at path over the defaults and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.ModulesDir = expandHome(cfg.ModulesDir)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
