package config

import (
	"fmt"
	"time"
)

// RedisConfig configures the Redis instance that keeps the active order reference.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Timeout  time.Duration `koanf:"timeout"`
}

func (c *RedisConfig) String() string {
	return section("Redis",
		kv{"addr", c.Addr},
		kv{"password", secret(c.Password)},
		kv{"db", c.DB},
		kv{"timeout", c.Timeout})
}

func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis address is not configured")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis db index must not be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("redis timeout is not configured")
	}
	return nil
}
