// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Queue.Provision)
	assert.Equal(t, 100, cfg.Queue.QuotaMB)
	assert.Equal(t, "beginning", cfg.Replay.Mode)
	assert.Equal(t, int64(10), cfg.Subscriber.Threshold)
	assert.Equal(t, time.Second, cfg.Subscriber.TickInterval)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Health.Enabled)
	assert.False(t, cfg.Otel.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
queue:
  name: tutorial/queue
replay:
  mode: timestamp
  start: "2019-04-03T18:48:00Z"
  timezone: America/Chicago
subscriber:
  threshold: 25
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tutorial/queue", cfg.Queue.Name)
	assert.Equal(t, "timestamp", cfg.Replay.Mode)
	assert.Equal(t, int64(25), cfg.Subscriber.Threshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, time.Second, cfg.Subscriber.TickInterval)
	assert.Equal(t, ":8081", cfg.Health.Addr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "queue: [not a mapping")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		desc   string
		mutate func(*Config)
		err    string
	}{
		{
			desc:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			desc:   "unknown replay mode",
			mutate: func(c *Config) { c.Replay.Mode = "tail" },
			err:    "invalid replay mode",
		},
		{
			desc:   "timestamp mode without start",
			mutate: func(c *Config) { c.Replay.Mode = "timestamp" },
			err:    "requires a start time",
		},
		{
			desc:   "unknown storage type",
			mutate: func(c *Config) { c.Storage.Type = "redis" },
			err:    "invalid storage type",
		},
		{
			desc:   "badger without directory",
			mutate: func(c *Config) { c.Storage.Type = "badger" },
			err:    "requires a directory",
		},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.err == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestReplaySpec(t *testing.T) {
	cfg := Default()
	cfg.Replay.Mode = "none"
	spec, err := cfg.ReplaySpec()
	require.NoError(t, err)
	assert.False(t, spec.Requested())

	cfg.Replay.Mode = "beginning"
	spec, err = cfg.ReplaySpec()
	require.NoError(t, err)
	assert.True(t, spec.FromBeginning())

	cfg.Replay.Mode = "timestamp"
	cfg.Replay.Start = "2019-04-03T18:48:00Z"
	spec, err = cfg.ReplaySpec()
	require.NoError(t, err)
	assert.Equal(t, "DATE:2019-04-03T18:48:00Z", spec.Location())

	cfg.Replay.Timezone = "America/Chicago"
	spec, err = cfg.ReplaySpec()
	require.NoError(t, err)
	assert.Equal(t, "DATE:2019-04-03T13:48:00-05:00", spec.Location())

	cfg.Replay.Timezone = "Nowhere/Special"
	_, err = cfg.ReplaySpec()
	assert.Error(t, err)

	cfg.Replay.Timezone = ""
	cfg.Replay.Start = "not-a-time"
	_, err = cfg.ReplaySpec()
	assert.Error(t, err)
}
