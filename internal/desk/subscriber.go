package desk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

// SubmittedHandler processes order-submitted events.
type SubmittedHandler interface {
	HandleSubmitted(ctx context.Context, event events.OrderSubmittedEvent) error
}

// ackableMsg is the part of jetstream.Msg the handler needs.
type ackableMsg interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
}

// Subscribe creates the durable consumer on stream and runs cfg.Workers workers until ctx is done.
func Subscribe(ctx context.Context, js jetstream.JetStream, stream string, cfg config.SubscriberConfig, handler SubmittedHandler, logger *slog.Logger) error {
	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		FilterSubject: cfg.Subject,
		Durable:       cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return err
	}
	g, gCtx := errgroup.WithContext(ctx)
	for range cfg.Workers {
		g.Go(func() error {
			return runWorker(gCtx, consumer, cfg.Timeout, cfg.Interval, handler, logger)
		})
	}
	return g.Wait()
}

// runWorker fetches messages one at a time and hands them to the handler.
func runWorker(ctx context.Context, consumer jetstream.Consumer, timeout, interval time.Duration, handler SubmittedHandler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(timeout))
			if err != nil {
				if errors.Is(err, nats.ErrTimeout) {
					continue
				}
				logger.ErrorContext(ctx, "failed to fetch messages", "error", err)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
				continue
			}
			for msg := range batch.Messages() {
				handleMessage(ctx, msg, handler, logger)
			}
			if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
				logger.WarnContext(ctx, "fetch batch ended with error", "error", err)
			}
		}
	}
}

// handleMessage decodes one event. Undecodable payloads are terminated,
// handler failures are redelivered.
func handleMessage(ctx context.Context, msg ackableMsg, handler SubmittedHandler, logger *slog.Logger) {
	if msg == nil {
		logger.ErrorContext(ctx, "received nil message")
		return
	}
	event, err := events.DecodeOrderSubmitted(msg.Data())
	if err != nil {
		logger.ErrorContext(ctx, "failed to unmarshal message", "error", err, "subject", msg.Subject())
		if err := msg.Term(); err != nil {
			logger.ErrorContext(ctx, "failed to terminate message", "error", err)
		}
		return
	}
	if err := handler.HandleSubmitted(ctx, event); err != nil {
		logger.ErrorContext(ctx, "failed to handle order submitted event", "order_id", event.OrderID, "error", err)
		if err := msg.Nak(); err != nil {
			logger.ErrorContext(ctx, "failed to nack message", "error", err)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		logger.ErrorContext(ctx, "failed to ack message", "error", err)
	}
}
