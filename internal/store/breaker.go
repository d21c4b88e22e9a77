package store

import (
	"context"
	"errors"

	"github.com/sony/gobreaker/v2"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/pkg/config"
)

// Breaker wraps an OrderStore in a circuit breaker. Watch is passed through:
// a long-lived stream reports its own faults.
type Breaker struct {
	next OrderStore
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreaker creates a circuit breaker around next.
func NewBreaker(next OrderStore, cfg config.CircuitBreakerConfig) *Breaker {
	st := gobreaker.Settings{
		Name:        "order-store-cb",
		MaxRequests: 3,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > cfg.ConsecutiveFailures ||
				(counts.Requests > cfg.ConsecutiveFailures &&
					float64(counts.TotalFailures)/float64(counts.Requests)*100 > float64(cfg.ErrorRatePercent))
		},
		IsSuccessful: isSuccessful,
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker[any](st)}
}

// isSuccessful counts domain outcomes as successes so that only store faults trip the breaker.
func isSuccessful(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, storeerrors.ErrOrderNotFound),
		errors.Is(err, storeerrors.ErrOrderFinalized),
		errors.Is(err, storeerrors.ErrInvalidTransition),
		errors.Is(err, storeerrors.ErrInvalidDraft),
		errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (b *Breaker) Create(ctx context.Context, draft order.Draft) (*order.Order, error) {
	return execute(b, func() (*order.Order, error) { return b.next.Create(ctx, draft) })
}

func (b *Breaker) FindByID(ctx context.Context, id string) (*order.Order, error) {
	return execute(b, func() (*order.Order, error) { return b.next.FindByID(ctx, id) })
}

func (b *Breaker) ListByStatus(ctx context.Context, status order.Status, offset, limit int32) ([]order.Order, error) {
	return execute(b, func() ([]order.Order, error) { return b.next.ListByStatus(ctx, status, offset, limit) })
}

func (b *Breaker) Transition(ctx context.Context, id string, to order.Status, notes string) (*order.Order, error) {
	return execute(b, func() (*order.Order, error) { return b.next.Transition(ctx, id, to, notes) })
}

func (b *Breaker) Delete(ctx context.Context, id string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.Delete(ctx, id) })
	return err
}

func (b *Breaker) Watch(ctx context.Context, id string) (<-chan order.Change, error) {
	return b.next.Watch(ctx, id)
}
