// Package config_test contains the unit tests for the config package.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvpool.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestConfig_Defaults(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8081", cfg.Addr())
	assert.Equal(t, 5, cfg.Pool.InitialWorkers)
	assert.Equal(t, 12, cfg.Pool.MaxWorkers)
	assert.Equal(t, 10, cfg.Pool.BacklogThreshold)
	assert.Equal(t, 20000, cfg.Server.Backlog)
	assert.Equal(t, "INFO", cfg.Log.Level)
}

func TestConfig_Load(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 9000
read_timeout = "250ms"

[pool]
initial_workers = 2
max_workers = 8
idle_timeout = "1m"

[limiter]
rate = 100.5
burst = 20

[log]
level = "DEBUG"
file = "/tmp/kvpool.log"
`)

	cfg := New()
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
	assert.Equal(t, 250*time.Millisecond, cfg.Server.ReadTimeout.Duration)
	// unset keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout.Duration)
	assert.Equal(t, 2, cfg.Pool.InitialWorkers)
	assert.Equal(t, 8, cfg.Pool.MaxWorkers)
	assert.Equal(t, 10, cfg.Pool.BacklogThreshold)
	assert.Equal(t, time.Minute, cfg.Pool.IdleTimeout.Duration)
	assert.Equal(t, 100.5, cfg.Limiter.Rate)
	assert.Equal(t, 20, cfg.Limiter.Burst)
	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, "/tmp/kvpool.log", cfg.Log.FileName)
}

func TestConfig_LoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		invalid bool
	}{
		{"bad toml", `host = 127.0.0.1`, false},
		{"bad duration", "[server]\nread_timeout = \"soon\"", false},
		{"zero workers", "[pool]\ninitial_workers = 0", true},
		{"max below initial", "[pool]\ninitial_workers = 6\nmax_workers = 3", true},
		{"port out of range", "[server]\nport = 70000", true},
		{"negative limiter", "[limiter]\nrate = -1.0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalid))
		})
	}

	err := New().Load(filepath.Join(t.TempDir(), "nonexistent.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_ExampleFileLoads(t *testing.T) {
	cfg := New()
	require.NoError(t, cfg.Load(filepath.Join("..", "..", "kvpool.example.toml")))
	assert.Equal(t, New(), cfg)
}
