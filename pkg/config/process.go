package config

import (
	"fmt"
	"strings"
	"time"
)

// LogConfig selects the minimum log level. Empty means info.
type LogConfig struct {
	Level string `koanf:"level"`
}

func (c *LogConfig) String() string {
	return section("Log", kv{"level", c.Level})
}

func (c *LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unsupported log level: %q", c.Level)
	}
}

// PProfConfig enables the profiling endpoints on a separate listener.
type PProfConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

func (c *PProfConfig) String() string {
	return section("PProf", kv{"enabled", c.Enabled}, kv{"addr", c.Addr})
}

func (c *PProfConfig) Validate() error {
	if c.Enabled && c.Addr == "" {
		return fmt.Errorf("pprof.addr is required when pprof is enabled")
	}
	return nil
}

// ShutdownConfig bounds the graceful shutdown of the listeners. Zero uses the server default.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

func (c *ShutdownConfig) String() string {
	return section("Shutdown", kv{"timeout", c.Timeout})
}

func (c *ShutdownConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("shutdown.timeout must not be negative")
	}
	return nil
}

// ProbesConfig names the files touched for container exec probes.
type ProbesConfig struct {
	ReadinessFileName string        `koanf:"readinessfilename"`
	LivenessFileName  string        `koanf:"livenessfilename"`
	LivenessInterval  time.Duration `koanf:"livenessinterval"`
}

func (c *ProbesConfig) String() string {
	return section("Probes",
		kv{"readinessfilename", c.ReadinessFileName},
		kv{"livenessfilename", c.LivenessFileName},
		kv{"livenessinterval", c.LivenessInterval})
}

// Validate fills in the default file names and interval.
func (c *ProbesConfig) Validate() error {
	if c.ReadinessFileName == "" {
		c.ReadinessFileName = "/tmp/ready"
	}
	if c.LivenessFileName == "" {
		c.LivenessFileName = "/tmp/live"
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = 20 * time.Second
	}
	if c.ReadinessFileName == c.LivenessFileName {
		return fmt.Errorf("probes: readiness and liveness files must differ")
	}
	return nil
}
