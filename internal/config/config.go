// Package config handles loading and parsing the application's configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ASHISH26940/kvpool/internal/logger"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Duration lets TOML files spell durations as "30s", "250ms" and so on.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds all configuration for the application.
type Config struct {
	Server  Server        `toml:"server"`
	Pool    Pool          `toml:"pool"`
	Metrics Metrics       `toml:"metrics"`
	Limiter Limiter       `toml:"limiter"`
	Log     logger.Config `toml:"log"`
}

// Server configures the listener and per-connection limits.
type Server struct {
	Host            string   `toml:"host"`
	Port            int      `toml:"port"`
	Backlog         int      `toml:"backlog"` // informational, the kernel's somaxconn applies
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	MaxRequestBytes int64    `toml:"max_request_bytes"`
}

// Pool sizes the worker pool. InitialWorkers == MaxWorkers gives a fixed pool.
type Pool struct {
	InitialWorkers   int      `toml:"initial_workers"`
	MaxWorkers       int      `toml:"max_workers"`
	BacklogThreshold int      `toml:"backlog_threshold"`
	IdleTimeout      Duration `toml:"idle_timeout"`
}

// Metrics configures the throughput observer.
type Metrics struct {
	Enabled     bool   `toml:"enabled"`
	ReportEvery uint64 `toml:"report_every"`
}

// Limiter configures per-client admission control. Rate 0 disables it.
type Limiter struct {
	Rate      float64  `toml:"rate"`
	Burst     int      `toml:"burst"`
	AllowList []string `toml:"allow"`
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		Server: Server{
			Host:            "127.0.0.1",
			Port:            8081,
			Backlog:         20000,
			ReadTimeout:     Duration{30 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			MaxRequestBytes: 1 << 20,
		},
		Pool: Pool{
			InitialWorkers:   5,
			MaxWorkers:       12,
			BacklogThreshold: 10,
			IdleTimeout:      Duration{30 * time.Second},
		},
		Metrics: Metrics{
			Enabled:     true,
			ReportEvery: 10000,
		},
		Limiter: Limiter{
			AllowList: []string{"127.0.0.1", "::1"},
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
func (c *Config) Load(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return c.Validate()
}

// Validate checks that the values can actually be served.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Server.Port)
	case c.Server.MaxRequestBytes <= 0:
		return fmt.Errorf("%w: max_request_bytes must be positive", ErrInvalid)
	case c.Server.ReadTimeout.Duration < 0 || c.Server.WriteTimeout.Duration < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	case c.Pool.InitialWorkers < 1:
		return fmt.Errorf("%w: initial_workers must be at least 1", ErrInvalid)
	case c.Pool.MaxWorkers < c.Pool.InitialWorkers:
		return fmt.Errorf("%w: max_workers %d below initial_workers %d", ErrInvalid, c.Pool.MaxWorkers, c.Pool.InitialWorkers)
	case c.Pool.BacklogThreshold < 0:
		return fmt.Errorf("%w: negative backlog_threshold", ErrInvalid)
	case c.Limiter.Rate < 0 || c.Limiter.Burst < 0:
		return fmt.Errorf("%w: negative limiter settings", ErrInvalid)
	}
	return nil
}

// Addr is the host:port the server binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
