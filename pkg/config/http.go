package config

import (
	"fmt"
	"time"
)

type HTTPConfig struct {
	Port           int `koanf:"port"`
	MaxHeaderBytes int `koanf:"maxHeaderBytes"`
	Timeout        struct {
		Read       time.Duration `koanf:"read"`
		Write      time.Duration `koanf:"write"`
		Idle       time.Duration `koanf:"idle"`
		ReadHeader time.Duration `koanf:"readHeader"`
	} `koanf:"timeout"`
}

func (c *HTTPConfig) String() string {
	return section("Server",
		kv{"port", c.Port},
		kv{"maxHeaderBytes", c.MaxHeaderBytes},
		kv{"timeout.read", c.Timeout.Read},
		kv{"timeout.write", c.Timeout.Write},
		kv{"timeout.idle", c.Timeout.Idle},
		kv{"timeout.readHeader", c.Timeout.ReadHeader})
}

func (c *HTTPConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid HTTP server port: %d", c.Port)
	}
	if c.MaxHeaderBytes < 0 {
		return fmt.Errorf("invalid HTTP server maxHeaderBytes: %d", c.MaxHeaderBytes)
	}
	timeouts := []kv{
		{"read", c.Timeout.Read},
		{"write", c.Timeout.Write},
		{"idle", c.Timeout.Idle},
		{"readHeader", c.Timeout.ReadHeader},
	}
	for _, t := range timeouts {
		if d := t.value.(time.Duration); d <= 0 {
			return fmt.Errorf("invalid HTTP server %s timeout: %v", t.key, d)
		}
	}
	return nil
}

// HTTPDefaults returns the server timeouts used when none are configured, keyed under prefix.
func HTTPDefaults(prefix string) map[string]any {
	return map[string]any{
		prefix + ".timeout.read":       5 * time.Second,
		prefix + ".timeout.write":      10 * time.Second,
		prefix + ".timeout.idle":       60 * time.Second,
		prefix + ".timeout.readHeader": 2 * time.Second,
	}
}
