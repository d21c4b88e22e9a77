// Package store provides the remote order store.
package store

import (
	"context"

	"github.com/abgdnv/storefront/internal/order"
)

// OrderStore is an interface for order storage operations.
// It abstracts the underlying data store, allowing for different implementations (e.g., in-memory, database).
type OrderStore interface {
	// Create stores a draft as a new pending order with a generated ID.
	// Returns ErrInvalidDraft if the draft does not validate, ErrCreateOrder otherwise.
	Create(ctx context.Context, draft order.Draft) (*order.Order, error)

	// FindByID retrieves a single order by its unique identifier.
	// Returns ErrOrderNotFound if no order exists with the given ID.
	FindByID(ctx context.Context, id string) (*order.Order, error)

	// ListByStatus returns orders with the given status, oldest first.
	// An empty status lists every order.
	ListByStatus(ctx context.Context, status order.Status, offset, limit int32) ([]order.Order, error)

	// Transition moves a pending order to accepted or rejected.
	// Returns ErrOrderNotFound, ErrOrderFinalized or ErrInvalidTransition.
	Transition(ctx context.Context, id string, to order.Status, notes string) (*order.Order, error)

	// Delete removes an order.
	// Returns ErrOrderNotFound if no order exists with the given ID.
	Delete(ctx context.Context, id string) error

	// Watch streams the order document. The first element is the current
	// document or a tombstone, later elements follow every change. A fault is
	// delivered as a Change with Err set, after which the channel is closed.
	// Cancelling ctx closes the channel.
	Watch(ctx context.Context, id string) (<-chan order.Change, error)
}

// send delivers a change unless ctx is done first.
func send(ctx context.Context, out chan<- order.Change, c order.Change) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
