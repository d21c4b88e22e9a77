// Package desk implements the order desk that decides on submitted orders.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

const autoAcceptNote = "accepted automatically"

// OrderDesk defines the decisions the desk can take on orders.
type OrderDesk interface {
	// List returns orders with the given status, oldest first. An empty status lists all orders.
	List(ctx context.Context, status order.Status, offset, limit int32) ([]order.Order, error)

	// Pending returns the orders waiting for a decision, oldest first.
	Pending(ctx context.Context, offset, limit int32) ([]order.Order, error)

	// Get retrieves a single order.
	// Returns ErrOrderNotFound if no order exists with the given ID.
	Get(ctx context.Context, id string) (*order.Order, error)

	// Accept moves a pending order to accepted.
	// Returns ErrOrderFinalized if the order was already decided.
	Accept(ctx context.Context, id, notes string) (*order.Order, error)

	// Reject moves a pending order to rejected.
	// Returns ErrOrderFinalized if the order was already decided.
	Reject(ctx context.Context, id, notes string) (*order.Order, error)

	// Delete removes an order. Storefronts tracking it stop tracking.
	Delete(ctx context.Context, id string) error
}

// Service implements OrderDesk on top of the order store.
type Service struct {
	orders     store.OrderStore
	autoAccept bool
	logger     *slog.Logger
	decisions  metric.Int64Counter
}

// NewService creates a desk. With autoAccept every submitted order is accepted on arrival.
func NewService(orders store.OrderStore, autoAccept bool, logger *slog.Logger) *Service {
	meter := otel.Meter("orderdesk")
	decisions, err := meter.Int64Counter("orderdesk_decisions", metric.WithDescription("Total number of order decisions"))
	if err != nil {
		panic(fmt.Sprintf("failed to create orderdesk_decisions counter: %v", err))
	}
	return &Service{
		orders:     orders,
		autoAccept: autoAccept,
		logger:     logger.With("component", "desk"),
		decisions:  decisions,
	}
}

func (s *Service) List(ctx context.Context, status order.Status, offset, limit int32) ([]order.Order, error) {
	return s.orders.ListByStatus(ctx, status, offset, limit)
}

func (s *Service) Pending(ctx context.Context, offset, limit int32) ([]order.Order, error) {
	return s.orders.ListByStatus(ctx, order.StatusPending, offset, limit)
}

func (s *Service) Get(ctx context.Context, id string) (*order.Order, error) {
	return s.orders.FindByID(ctx, id)
}

func (s *Service) Accept(ctx context.Context, id, notes string) (*order.Order, error) {
	return s.decide(ctx, id, order.StatusAccepted, notes)
}

func (s *Service) Reject(ctx context.Context, id, notes string) (*order.Order, error) {
	return s.decide(ctx, id, order.StatusRejected, notes)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "order deleted", "order_id", id)
	return nil
}

func (s *Service) decide(ctx context.Context, id string, status order.Status, notes string) (*order.Order, error) {
	o, err := s.orders.Transition(ctx, id, status, notes)
	if err != nil {
		return nil, err
	}
	s.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	s.logger.InfoContext(ctx, "order decided", "order_id", id, "status", status)
	return o, nil
}

// HandleSubmitted processes an order-submitted event. Orders that were
// already decided or deleted are not an error.
func (s *Service) HandleSubmitted(ctx context.Context, event events.OrderSubmittedEvent) error {
	s.logger.InfoContext(ctx, "received order submitted event",
		slog.String("order_id", event.OrderID),
		slog.String("user_id", event.UserID),
		slog.String("total_amount", event.TotalAmount),
		slog.Int("item_count", event.ItemCount))
	if !s.autoAccept {
		return nil
	}
	_, err := s.Accept(ctx, event.OrderID, autoAcceptNote)
	if errors.Is(err, storeerrors.ErrOrderFinalized) || errors.Is(err, storeerrors.ErrOrderNotFound) {
		s.logger.InfoContext(ctx, "order no longer pending", "order_id", event.OrderID, "reason", err)
		return nil
	}
	return err
}
