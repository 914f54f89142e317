// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/absmach/replayflow/flow"
)

// Config holds all configuration for the replay subscriber.
type Config struct {
	Broker     BrokerConfig     `yaml:"broker"`
	Queue      QueueConfig      `yaml:"queue"`
	Replay     ReplayConfig     `yaml:"replay"`
	Subscriber SubscriberConfig `yaml:"subscriber"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Health     HealthConfig     `yaml:"health"`
	Otel       OtelConfig       `yaml:"otel"`
}

// BrokerConfig holds connection parameters. The command line overrides these.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	VPN      string `yaml:"vpn"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueueConfig holds durable queue settings.
type QueueConfig struct {
	Name       string `yaml:"name"`
	Provision  bool   `yaml:"provision"`
	QuotaMB    int    `yaml:"quota_mb"`
	Permission string `yaml:"permission"`
}

// ReplayConfig selects the replay start position.
type ReplayConfig struct {
	// Mode is "none", "beginning", or "timestamp".
	Mode string `yaml:"mode"`
	// Start is the RFC3339 replay start, used when mode is "timestamp".
	Start string `yaml:"start"`
	// Timezone is an optional IANA zone carried into the start location.
	Timezone string `yaml:"timezone"`
}

// SubscriberConfig holds consumption loop settings.
type SubscriberConfig struct {
	Threshold    int64         `yaml:"threshold"`
	TickInterval time.Duration `yaml:"tick_interval"`
	ChannelSize  int           `yaml:"channel_size"`
}

// StorageConfig selects the replay log backend of the embedded broker.
type StorageConfig struct {
	Type     string `yaml:"type"` // memory, badger
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig holds the health endpoint configuration.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OtelConfig holds OpenTelemetry configuration.
type OtelConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	ServiceVersion string  `yaml:"service_version"`
	TracesEnabled  bool    `yaml:"traces_enabled"`
	SampleRate     float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Provision:  true,
			QuotaMB:    100,
			Permission: "delete",
		},
		Replay: ReplayConfig{
			Mode: "beginning",
		},
		Subscriber: SubscriberConfig{
			Threshold:    10,
			TickInterval: 1 * time.Second,
			ChannelSize:  256,
		},
		Storage: StorageConfig{
			Type:     "memory",
			Compress: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:         true,
			Addr:            ":8081",
			ShutdownTimeout: 10 * time.Second,
		},
		Otel: OtelConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "replay-subscriber",
			ServiceVersion: "1.0.0",
			TracesEnabled:  false,
			SampleRate:     0.1,
		},
	}
}

// Load reads configuration from a YAML file, overlaying defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Replay.Mode {
	case "", "none", "beginning", "timestamp":
	default:
		return fmt.Errorf("invalid replay mode %q", c.Replay.Mode)
	}
	if c.Replay.Mode == "timestamp" && c.Replay.Start == "" {
		return fmt.Errorf("replay mode %q requires a start time", c.Replay.Mode)
	}
	switch c.Storage.Type {
	case "", "memory", "badger":
	default:
		return fmt.Errorf("invalid storage type %q", c.Storage.Type)
	}
	if c.Storage.Type == "badger" && c.Storage.Dir == "" {
		return fmt.Errorf("storage type %q requires a directory", c.Storage.Type)
	}
	return nil
}

// ReplaySpec converts the replay section into a flow.ReplaySpec.
func (c *Config) ReplaySpec() (flow.ReplaySpec, error) {
	switch c.Replay.Mode {
	case "", "none":
		return flow.NoReplay(), nil
	case "beginning":
		return flow.ReplayFromBeginning(), nil
	case "timestamp":
		start, err := time.Parse(time.RFC3339, c.Replay.Start)
		if err != nil {
			return flow.ReplaySpec{}, fmt.Errorf("invalid replay start: %w", err)
		}
		if c.Replay.Timezone == "" {
			return flow.ReplayFromTime(start), nil
		}
		loc, err := time.LoadLocation(c.Replay.Timezone)
		if err != nil {
			return flow.ReplaySpec{}, fmt.Errorf("invalid replay timezone: %w", err)
		}
		return flow.ReplayFromTimeInZone(start, loc), nil
	default:
		return flow.ReplaySpec{}, fmt.Errorf("invalid replay mode %q", c.Replay.Mode)
	}
}
