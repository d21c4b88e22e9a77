package config

import (
	"fmt"
	"time"
)

type NATSConfig struct {
	Url     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
	// Stream is the JetStream stream that carries order events.
	Stream string `koanf:"stream"`
}

func (c *NATSConfig) String() string {
	return section("NATS", kv{"url", c.Url}, kv{"timeout", c.Timeout}, kv{"stream", c.Stream})
}

func (c *NATSConfig) Validate() error {
	if c.Url == "" {
		return fmt.Errorf("nats.url is not configured")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("nats.timeout must be greater than 0")
	}
	if c.Stream == "" {
		return fmt.Errorf("nats.stream is not configured")
	}
	return nil
}

// SubscriberConfig configures a durable pull consumer and its worker pool.
// Timeout bounds one fetch; Interval is the pause after a failed fetch.
type SubscriberConfig struct {
	Subject  string        `koanf:"subject"`
	Consumer string        `koanf:"consumer"`
	Timeout  time.Duration `koanf:"timeout"`
	Interval time.Duration `koanf:"interval"`
	Workers  int           `koanf:"workers"`
}

func (c *SubscriberConfig) String() string {
	return section("NATS Subscriber",
		kv{"subject", c.Subject},
		kv{"consumer", c.Consumer},
		kv{"timeout", c.Timeout},
		kv{"interval", c.Interval},
		kv{"workers", c.Workers})
}

func (c *SubscriberConfig) Validate() error {
	switch {
	case c.Subject == "":
		return fmt.Errorf("subscriber.subject is not configured")
	case c.Consumer == "":
		return fmt.Errorf("subscriber.consumer is not configured")
	case c.Timeout <= 0:
		return fmt.Errorf("subscriber.timeout must be greater than 0")
	case c.Interval <= 0:
		return fmt.Errorf("subscriber.interval must be greater than 0")
	case c.Workers <= 0:
		return fmt.Errorf("subscriber.workers must be greater than 0")
	}
	return nil
}
