// Package config defines the configuration of the storefront and order desk processes.
package config

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/config/configloader"
)

var _ configloader.Validator = (*StorefrontConfig)(nil)
var _ configloader.Defaulter = (*StorefrontConfig)(nil)

// StorefrontConfig configures one storefront device session.
type StorefrontConfig struct {
	HTTPServer config.HTTPConfig       `koanf:"server"`
	Database   config.DatabaseConfig   `koanf:"database"`
	Redis      config.RedisConfig      `koanf:"redis"`
	Nats       config.NATSConfig       `koanf:"nats"`
	Log        config.LogConfig        `koanf:"log"`
	PProf      config.PProfConfig      `koanf:"pprof"`
	Shutdown   config.ShutdownConfig   `koanf:"shutdown"`
	Resilience config.ResilienceConfig `koanf:"resilience"`
	Telemetry  config.TelemetryConfig  `koanf:"telemetry"`
	Checkout   CheckoutConfig          `koanf:"checkout"`
	User       profile.User            `koanf:"user"`
	Terms      TermsConfig             `koanf:"terms"`
}

type CheckoutConfig struct {
	// DeviceID scopes the active order reference in Redis.
	DeviceID       string        `koanf:"deviceid"`
	CatalogRefresh time.Duration `koanf:"catalogrefresh"`
}

func (c *CheckoutConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("checkout.deviceid is not configured")
	}
	if c.CatalogRefresh <= 0 {
		return fmt.Errorf("checkout.catalogrefresh must be greater than 0")
	}
	return nil
}

// TermsConfig holds the last update of the terms document as an RFC 3339 timestamp.
type TermsConfig struct {
	LastUpdated string `koanf:"lastupdated"`

	parsed time.Time
}

func (c *TermsConfig) Validate() error {
	t, err := time.Parse(time.RFC3339, c.LastUpdated)
	if err != nil {
		return fmt.Errorf("terms.lastupdated must be an RFC 3339 timestamp: %w", err)
	}
	c.parsed = t
	return nil
}

// Terms returns the terms document description. Valid after Validate.
func (c *TermsConfig) Terms() profile.Terms {
	return profile.Terms{LastUpdated: c.parsed}
}

func (c *StorefrontConfig) String() string {
	var b strings.Builder
	b.WriteString(c.HTTPServer.String())
	b.WriteString(c.Database.String())
	b.WriteString(c.Redis.String())
	b.WriteString(c.Nats.String())
	b.WriteString(c.Log.String())
	b.WriteString(c.PProf.String())
	b.WriteString(c.Shutdown.String())
	b.WriteString(c.Resilience.String())
	b.WriteString(c.Telemetry.String())

	b.WriteString("\n--- Checkout ---\n")
	b.WriteString(fmt.Sprintf("  deviceid: %s\n", c.Checkout.DeviceID))
	b.WriteString(fmt.Sprintf("  catalogrefresh: %s\n", c.Checkout.CatalogRefresh))
	b.WriteString(fmt.Sprintf("  user.id: %s\n", c.User.ID))
	b.WriteString(fmt.Sprintf("  terms.lastupdated: %s\n", c.Terms.LastUpdated))
	return b.String()
}

func (c *StorefrontConfig) Defaults() map[string]any {
	d := config.HTTPDefaults("server")
	maps.Copy(d, map[string]any{
		"checkout.catalogrefresh": time.Minute,
	})
	return d
}

// Validate checks if the configuration values are valid
func (c *StorefrontConfig) Validate() error {
	validators := []configloader.Validator{
		&c.HTTPServer, &c.Database, &c.Redis, &c.Nats, &c.Log, &c.PProf,
		&c.Shutdown, &c.Resilience, &c.Telemetry, &c.Checkout, &c.Terms,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.User.ID == "" {
		return fmt.Errorf("user.id is not configured")
	}
	return nil
}
