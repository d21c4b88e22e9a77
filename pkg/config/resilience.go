package config

import (
	"fmt"
	"time"
)

// ResilienceConfig groups the failure handling knobs for remote collaborators.
type ResilienceConfig struct {
	Reconnect      ReconnectConfig      `koanf:"reconnect"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuitbreaker"`
}

// ReconnectConfig controls re-subscription after a live watch fails.
// MaxAttempts of zero disables automatic reconnects.
type ReconnectConfig struct {
	MaxAttempts    uint          `koanf:"maxattempts"`
	InitialBackoff time.Duration `koanf:"initialbackoff"`
	MaxBackoff     time.Duration `koanf:"maxbackoff"`
}

type CircuitBreakerConfig struct {
	ConsecutiveFailures uint32        `koanf:"consecutivefailures"`
	ErrorRatePercent    int           `koanf:"errorratepercent"`
	OpenTimeout         time.Duration `koanf:"opentimeout"`
}

func (c *ResilienceConfig) String() string {
	return section("Resilience",
		kv{"reconnect.maxattempts", c.Reconnect.MaxAttempts},
		kv{"reconnect.initialbackoff", c.Reconnect.InitialBackoff},
		kv{"reconnect.maxbackoff", c.Reconnect.MaxBackoff},
		kv{"circuitbreaker.consecutivefailures", c.CircuitBreaker.ConsecutiveFailures},
		kv{"circuitbreaker.errorratepercent", c.CircuitBreaker.ErrorRatePercent},
		kv{"circuitbreaker.opentimeout", c.CircuitBreaker.OpenTimeout})
}

func (c *ResilienceConfig) Validate() error {
	if c.Reconnect.MaxAttempts > 0 {
		if c.Reconnect.InitialBackoff <= 0 {
			return fmt.Errorf("reconnect.initialbackoff must be greater than 0")
		}
		if c.Reconnect.MaxBackoff < c.Reconnect.InitialBackoff {
			return fmt.Errorf("reconnect.maxbackoff must not be lower than reconnect.initialbackoff")
		}
	}
	if c.CircuitBreaker.ConsecutiveFailures <= 0 {
		return fmt.Errorf("circuitbreaker.consecutivefailures must be greater than 0")
	}
	if c.CircuitBreaker.ErrorRatePercent < 0 || c.CircuitBreaker.ErrorRatePercent > 100 {
		return fmt.Errorf("circuitbreaker.errorratepercent must be between 0 and 100")
	}
	if c.CircuitBreaker.OpenTimeout <= 0 {
		return fmt.Errorf("circuitbreaker.opentimeout must be greater than 0")
	}
	return nil
}
