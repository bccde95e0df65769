// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config provides configuration loading for the agent core service.
//
// Thread Safety:
//
//	Config values are immutable after Load returns; they are safe to share
//	across goroutines.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxConfigFileSize is the maximum allowed config file size (1MB).
	// Prevents memory issues from large files.
	MaxConfigFileSize = 1024 * 1024

	// DefaultListenAddr is the HTTP listen address when none is configured.
	DefaultListenAddr = ":8085"
)

// =============================================================================
// Types
// =============================================================================

// Config is the root service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Budget    BudgetConfig    `yaml:"budget"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Policy    PolicyConfig    `yaml:"policy"`
	Backend   BackendConfig   `yaml:"backend"`
	Stream    StreamConfig    `yaml:"stream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BudgetConfig holds the default per-turn resource budget. Individual
// requests may tighten these but never exceed them.
type BudgetConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxCost       float64       `yaml:"max_cost"`
}

// BreakerConfig holds the circuit breaker thresholds.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenRequests int           `yaml:"half_open_requests"`
	SuccessThreshold int           `yaml:"success_threshold"`
}

// PolicyConfig holds the coordinator gate settings.
type PolicyConfig struct {
	// AuthorityURL is the review endpoint. Empty means no authority is
	// reachable; FailClosed then decides whether turns proceed.
	AuthorityURL string        `yaml:"authority_url"`
	Timeout      time.Duration `yaml:"timeout"`
	FailClosed   *bool         `yaml:"fail_closed"`

	// SupervisedTypes restricts supervision to the listed decision types.
	// Empty means every privileged type is supervised.
	SupervisedTypes []string `yaml:"supervised_types"`

	// RespondOnly forces the engine into respond-only mode for all turns.
	RespondOnly bool `yaml:"respond_only"`
}

// BackendConfig holds the language-model backend settings.
type BackendConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`

	// CostPerKiloToken converts token usage to budget cost. Zero disables
	// cost accounting.
	CostPerKiloToken float64 `yaml:"cost_per_kilo_token"`
}

// StreamConfig holds the emission transport settings.
type StreamConfig struct {
	// ReceiveTimeout bounds a single frame read before a keep-alive is sent.
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`

	// KeepAliveInterval is informational for clients; keep-alives ride on
	// receive timeouts.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
}

// RateLimitConfig holds turn admission limits. Non-positive values disable
// limiting.
type RateLimitConfig struct {
	TurnsPerSecond float64 `yaml:"turns_per_second"`
	Burst          int     `yaml:"burst"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	failClosed := true
	return Config{
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ShutdownTimeout: 10 * time.Second,
		},
		Budget: BudgetConfig{
			MaxIterations: 10,
			Timeout:       2 * time.Minute,
			MaxTokens:     64000,
			MaxCost:       1.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  60 * time.Second,
			HalfOpenRequests: 3,
			SuccessThreshold: 2,
		},
		Policy: PolicyConfig{
			Timeout:    5 * time.Second,
			FailClosed: &failClosed,
		},
		Backend: BackendConfig{
			Model:            "gpt-4o-mini",
			APIKeyEnv:        "AGENTCORE_API_KEY",
			Temperature:      0.2,
			CostPerKiloToken: 0.0,
		},
		Stream: StreamConfig{
			ReceiveTimeout:    15 * time.Second,
			KeepAliveInterval: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			TurnsPerSecond: 0,
			Burst:          0,
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides, then validates.
//
// Inputs:
//
//	path - YAML file path. Empty skips file loading.
//
// Outputs:
//
//	Config - The merged configuration.
//	error - Non-nil when the file is unreadable, oversized, malformed, or
//	the merged result fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies AGENTCORE_* environment variables on top of the
// file values. Only operational knobs are overridable; structural settings
// stay in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCORE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("AGENTCORE_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("AGENTCORE_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("AGENTCORE_AUTHORITY_URL"); v != "" {
		cfg.Policy.AuthorityURL = v
	}
	if v := os.Getenv("AGENTCORE_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Budget.MaxIterations = n
		}
	}
	if v := os.Getenv("AGENTCORE_RESPOND_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Policy.RespondOnly = b
		}
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Budget.MaxIterations <= 0 {
		return fmt.Errorf("budget.max_iterations must be positive, got %d", c.Budget.MaxIterations)
	}
	if c.Budget.MaxTokens < 0 {
		return fmt.Errorf("budget.max_tokens must not be negative, got %d", c.Budget.MaxTokens)
	}
	if c.Budget.MaxCost < 0 {
		return fmt.Errorf("budget.max_cost must not be negative, got %f", c.Budget.MaxCost)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		return fmt.Errorf("breaker.recovery_timeout must be positive, got %s", c.Breaker.RecoveryTimeout)
	}
	if c.Breaker.HalfOpenRequests <= 0 {
		return fmt.Errorf("breaker.half_open_requests must be positive, got %d", c.Breaker.HalfOpenRequests)
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive, got %d", c.Breaker.SuccessThreshold)
	}
	if c.Stream.ReceiveTimeout <= 0 {
		return fmt.Errorf("stream.receive_timeout must be positive, got %s", c.Stream.ReceiveTimeout)
	}
	return nil
}

// FailClosedEnabled reports the effective fail-closed setting.
func (p PolicyConfig) FailClosedEnabled() bool {
	if p.FailClosed == nil {
		return true
	}
	return *p.FailClosed
}
