package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/abgdnv/storefront/internal/app"
	"github.com/abgdnv/storefront/internal/config"
	"github.com/abgdnv/storefront/internal/desk"
	"github.com/abgdnv/storefront/internal/store/migrations"
	"github.com/abgdnv/storefront/pkg/auth"
	"github.com/abgdnv/storefront/pkg/bootstrap"
	"github.com/abgdnv/storefront/pkg/config/configloader"
	"github.com/abgdnv/storefront/pkg/logger"
	"github.com/abgdnv/storefront/pkg/nats"
	"github.com/abgdnv/storefront/pkg/probes"
	"github.com/abgdnv/storefront/pkg/server"
	"github.com/abgdnv/storefront/pkg/telemetry"
)

const serviceName = "orderdesk"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("application run failed: %v", err)
		os.Exit(1)
	}
	log.Println("application stopped gracefully")
}

// run starts the order desk API and the order event subscriber.
func run(ctx context.Context) error {
	cfg, cfgErr := configloader.Load[*config.OrderDeskConfig](serviceName)
	if cfgErr != nil {
		return fmt.Errorf("failed to load configuration: %w", cfgErr)
	}
	log.Printf("Configuration loaded: %v", cfg)

	lg := logger.New(os.Stdout, cfg.Log.Level)
	slog.SetDefault(lg)

	if cfg.Telemetry.Traces.Enabled {
		tp, err := telemetry.NewTracerProvider(ctx, serviceName, cfg.Telemetry)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				lg.Error("Failed to shutdown tracer provider", "error", err)
			}
		}()
	}
	mp, metrics, err := telemetry.NewMeterProvider(serviceName)
	if err != nil {
		return err
	}
	defer func() { _ = mp.Shutdown(context.Background()) }()

	if cfg.Database.Migrate {
		if err := migrations.Apply(ctx, cfg.Database.URL, lg); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}
	dbPool, err := bootstrap.NewDbPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer dbPool.Close()
	lg.Info("Successfully connected to the database!")

	verifier, err := auth.NewJWTVerifier(ctx, cfg.IdP)
	if err != nil {
		return fmt.Errorf("failed to create JWT verifier: %w", err)
	}

	natsConn, err := nats.NewClient(cfg.Nats.Url, cfg.Nats.Timeout)
	if err != nil {
		return err
	}
	defer natsConn.Close()
	js, err := nats.NewJetStreamContext(natsConn)
	if err != nil {
		return err
	}
	if _, err := nats.EnsureOrdersStream(ctx, js, cfg.Nats.Stream); err != nil {
		return err
	}

	deps := app.SetupOrderDesk(dbPool, verifier, cfg, metrics, lg)
	httpServer := app.SetupOrderDeskServer(deps, cfg)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("NATS subscriber started")
		err := desk.Subscribe(gCtx, js, cfg.Nats.Stream, cfg.Subscriber, deps.Desk, lg)
		if err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("subscriber failed", "error", err)
			return err
		}
		lg.Info("subscriber stopped gracefully.")
		return nil
	})
	g.Go(func() error {
		lg.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		lg.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout(cfg.Shutdown))
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return probes.RunLiveness(gCtx, cfg.Probes, lg)
	})

	if cfg.PProf.Enabled {
		pprofServer := &http.Server{Addr: cfg.PProf.Addr}
		g.Go(func() error {
			lg.Info("Pprof server listening", slog.String("addr", pprofServer.Addr))
			if err := pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("pprof server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout(cfg.Shutdown))
			defer cancel()
			return pprofServer.Shutdown(shutdownCtx)
		})
	}

	if err := probes.MarkReady(cfg.Probes); err != nil {
		lg.Warn("Readiness file not written", "error", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("errgroup encountered an error: %w", err)
	}
	return nil
}
