package config

import (
	"fmt"
	"strings"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/config/configloader"
)

var _ configloader.Validator = (*OrderDeskConfig)(nil)
var _ configloader.Defaulter = (*OrderDeskConfig)(nil)

// OrderDeskConfig configures the order desk that decides on submitted orders.
type OrderDeskConfig struct {
	HTTPServer config.HTTPConfig       `koanf:"server"`
	Database   config.DatabaseConfig   `koanf:"database"`
	Nats       config.NATSConfig       `koanf:"nats"`
	Subscriber config.SubscriberConfig `koanf:"subscriber"`
	IdP        config.IdP              `koanf:"idp"`
	Log        config.LogConfig        `koanf:"log"`
	PProf      config.PProfConfig      `koanf:"pprof"`
	Shutdown   config.ShutdownConfig   `koanf:"shutdown"`
	Probes     config.ProbesConfig     `koanf:"probes"`
	Resilience config.ResilienceConfig `koanf:"resilience"`
	Telemetry  config.TelemetryConfig  `koanf:"telemetry"`
	Desk       struct {
		// AutoAccept accepts every submitted order as soon as its event arrives.
		AutoAccept bool `koanf:"autoaccept"`
	} `koanf:"desk"`
}

func (c *OrderDeskConfig) String() string {
	var b strings.Builder
	b.WriteString(c.HTTPServer.String())
	b.WriteString(c.Database.String())
	b.WriteString(c.Nats.String())
	b.WriteString(c.Subscriber.String())
	b.WriteString(c.IdP.String())
	b.WriteString(c.Log.String())
	b.WriteString(c.PProf.String())
	b.WriteString(c.Shutdown.String())
	b.WriteString(c.Probes.String())
	b.WriteString(c.Resilience.String())
	b.WriteString(c.Telemetry.String())
	b.WriteString("\n--- Desk ---\n")
	b.WriteString(fmt.Sprintf("  autoaccept: %t\n", c.Desk.AutoAccept))
	return b.String()
}

func (c *OrderDeskConfig) Defaults() map[string]any {
	return config.HTTPDefaults("server")
}

// Validate checks if the configuration values are valid
func (c *OrderDeskConfig) Validate() error {
	validators := []configloader.Validator{
		&c.HTTPServer, &c.Database, &c.Nats, &c.Subscriber, &c.IdP, &c.Log,
		&c.PProf, &c.Shutdown, &c.Probes, &c.Resilience, &c.Telemetry,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
