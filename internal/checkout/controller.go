// Package checkout turns the cart into a submitted order and tracks that
// order until it is finished or removed.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/abgdnv/storefront/internal/cart"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/internal/refstore"
	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

// Phase is the lifecycle phase of the controller.
type Phase string

const (
	PhaseNoActiveOrder Phase = "no_active_order"
	PhaseSubmitting    Phase = "submitting"
	PhaseTracking      Phase = "tracking"
	PhaseError         Phase = "error"
)

// State is a snapshot of the controller. OrderID and Status are set while
// tracking; Order holds the last delivered document, if any.
type State struct {
	Phase   Phase
	OrderID string
	Status  order.Status
	Order   *order.Order
	Err     error
}

func (s State) clone() State {
	s.Order = s.Order.Clone()
	return s
}

// Cart is the part of the cart the controller reads and clears.
type Cart interface {
	Snapshot() []cart.Line
	AllAcknowledged() bool
	Len() int
	Clear()
	Quantity(productID string) int
	SetQuantity(productID string, quantity int) error
	Remove(productID string)
	Subtract(quantities map[string]int)
}

// Profile provides the identity, address and terms acceptance of the user.
type Profile interface {
	User() profile.User
	SelectedAddress() *order.Address
	TermsAcceptedAt() time.Time
}

// Deps are the collaborators of a Controller. Publisher is optional.
type Deps struct {
	Cart      Cart
	Orders    store.OrderStore
	Ref       refstore.Store
	Profile   Profile
	Terms     profile.Terms
	Publisher messaging.Publisher
	Logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithReconnect sets the policy used after a watch fault. MaxAttempts of zero disables reconnects.
func WithReconnect(cfg config.ReconnectConfig) Option {
	return func(c *Controller) {
		c.reconnect = cfg
	}
}

// ConfirmRequest carries the checkout input that is not part of the cart or profile.
type ConfirmRequest struct {
	PaymentMethodLabel string `json:"payment_method_label"`
}

// Controller tracks at most one order per device.
type Controller struct {
	cart      Cart
	orders    store.OrderStore
	ref       refstore.Store
	profile   Profile
	terms     profile.Terms
	publisher messaging.Publisher
	logger    *slog.Logger
	reconnect config.ReconnectConfig

	mu        sync.Mutex
	state     State
	gen       uint64
	watch     *watch
	observers map[chan State]struct{}

	submittedCounter metric.Int64Counter
	rejectedCounter  metric.Int64Counter
}

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// running reports whether the watch goroutine is still alive.
func (w *watch) running() bool {
	if w == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// New creates a controller in the NoActiveOrder phase. Call Start to recover a tracked order.
func New(deps Deps, opts ...Option) *Controller {
	meter := otel.Meter("storefront")
	submitted, err := meter.Int64Counter("storefront_orders_submitted", metric.WithDescription("Total number of submitted orders"))
	if err != nil {
		panic(fmt.Sprintf("failed to create storefront_orders_submitted counter: %v", err))
	}
	rejected, err := meter.Int64Counter("storefront_confirm_rejected", metric.WithDescription("Total number of rejected checkout attempts"))
	if err != nil {
		panic(fmt.Sprintf("failed to create storefront_confirm_rejected counter: %v", err))
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cart:             deps.Cart,
		orders:           deps.Orders,
		ref:              deps.Ref,
		profile:          deps.Profile,
		terms:            deps.Terms,
		publisher:        deps.Publisher,
		logger:           logger.With("component", "checkout"),
		state:            State{Phase: PhaseNoActiveOrder},
		observers:        make(map[chan State]struct{}),
		submittedCounter: submitted,
		rejectedCounter:  rejected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Observe delivers the current state and every later change. Only the latest
// state is kept for a slow reader. The channel is closed when ctx is done.
func (c *Controller) Observe(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.observers[ch] = struct{}{}
	ch <- c.state.clone()
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.observers, ch)
		close(ch)
		c.mu.Unlock()
	}()
	return ch
}

// Start recovers the tracked order from the reference store and subscribes to it.
// It is a no-op while a watch is running; a watch that gave up is replaced.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.watch.running() || c.state.Phase == PhaseSubmitting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	id, ok, err := c.ref.Get(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watch.running() || c.state.Phase == PhaseSubmitting {
		return nil
	}
	if !ok {
		if c.state.Phase != PhaseError {
			c.setStateLocked(State{Phase: PhaseNoActiveOrder})
		}
		return nil
	}
	next := State{Phase: PhaseTracking, OrderID: id, Status: order.StatusUnknown}
	if c.state.Phase == PhaseTracking && c.state.OrderID == id {
		// re-opened screen: keep what is known until the watch delivers
		next = c.state
	}
	c.logger.InfoContext(ctx, "tracking recovered order", "order_id", id)
	c.setStateLocked(next)
	c.startWatchLocked(ctx, id)
	return nil
}

// Stop cancels the watch and waits for it to finish. The phase and the
// stored reference are kept so that Start subscribes again.
func (c *Controller) Stop() {
	c.mu.Lock()
	w := c.watch
	c.watch = nil
	c.gen++
	c.mu.Unlock()

	if w != nil {
		w.cancel()
		<-w.done
	}
}

// Confirm validates the checkout preconditions, submits the cart as a new
// order, records it as the active order and takes the submitted lines off the cart.
func (c *Controller) Confirm(ctx context.Context, req ConfirmRequest) (*order.Order, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseSubmitting || c.state.Phase == PhaseTracking {
		c.mu.Unlock()
		c.countRejected(ctx, ReasonOrderInFlight)
		return nil, ErrOrderInFlight
	}
	draft, verr := c.buildDraft(req)
	if verr != nil {
		c.mu.Unlock()
		c.countRejected(ctx, verr.Reason)
		c.logger.InfoContext(ctx, "checkout rejected", "reason", verr.Reason)
		return nil, verr
	}
	c.setStateLocked(State{Phase: PhaseSubmitting})
	c.mu.Unlock()

	created, err := c.orders.Create(ctx, draft)
	if err != nil {
		werr := fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
		c.logger.ErrorContext(ctx, "failed to create order", "error", err)
		c.countRejected(ctx, ReasonRemoteWriteFailure)
		c.mu.Lock()
		c.setStateLocked(State{Phase: PhaseError, Err: werr})
		c.mu.Unlock()
		return nil, werr
	}

	if err := c.ref.Set(ctx, created.ID); err != nil {
		oerr := &OrphanedWriteError{OrderID: created.ID, Err: err}
		c.logger.ErrorContext(ctx, "order created but active reference not stored", "order_id", created.ID, "error", err)
		c.mu.Lock()
		c.setStateLocked(State{Phase: PhaseError, OrderID: created.ID, Status: created.Status, Order: created.Clone(), Err: oerr})
		c.mu.Unlock()
		return created, oerr
	}
	c.cart.Subtract(submittedQuantities(draft))

	c.mu.Lock()
	c.setStateLocked(State{Phase: PhaseTracking, OrderID: created.ID, Status: created.Status, Order: created.Clone()})
	c.startWatchLocked(ctx, created.ID)
	c.mu.Unlock()

	c.submittedCounter.Add(ctx, 1)
	c.logger.InfoContext(ctx, "order submitted", "order_id", created.ID, "total_amount", created.TotalAmount.String())
	c.publishSubmitted(ctx, created)
	return created, nil
}

// buildDraft checks the preconditions in order and snapshots the cart. Caller holds mu.
func (c *Controller) buildDraft(req ConfirmRequest) (order.Draft, *ValidationError) {
	address := c.profile.SelectedAddress()
	if address == nil {
		return order.Draft{}, &ValidationError{Reason: ReasonAddressMissing, Message: "select a shipping address"}
	}
	if !c.cart.AllAcknowledged() {
		return order.Draft{}, &ValidationError{Reason: ReasonItemsNotAccepted, Message: "accept every item in the cart"}
	}
	if !c.terms.Current(c.profile.TermsAcceptedAt()) {
		return order.Draft{}, &ValidationError{Reason: ReasonTermsNotAccepted, Message: "accept the current terms and conditions"}
	}
	lines := c.cart.Snapshot()
	if len(lines) == 0 {
		return order.Draft{}, &ValidationError{Reason: ReasonCartEmpty, Message: "the cart is empty"}
	}

	items := make([]order.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, order.Item{
			ProductID:         l.ProductID,
			Name:              l.Name,
			UnitPriceSnapshot: l.UnitPrice,
			Quantity:          l.Quantity,
			ImageRef:          l.ImageRef,
		})
	}
	user := c.profile.User()
	draft := order.NewDraft(user.ID, user.DisplayName, user.Email, items, *address, req.PaymentMethodLabel)
	if err := draft.Validate(); err != nil {
		return order.Draft{}, &ValidationError{Reason: ReasonInvalidOrder, Message: err.Error()}
	}
	return draft, nil
}

func submittedQuantities(d order.Draft) map[string]int {
	q := make(map[string]int, len(d.Items))
	for _, it := range d.Items {
		q[it.ProductID] += it.Quantity
	}
	return q
}

// Track records orderID as the active order and subscribes to it. It adopts
// an order whose reference could not be stored during Confirm.
func (c *Controller) Track(ctx context.Context, orderID string) error {
	if orderID == "" {
		return &ValidationError{Reason: ReasonInvalidOrder, Message: "order id is required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase == PhaseSubmitting || c.state.Phase == PhaseTracking {
		return ErrOrderInFlight
	}
	if err := c.ref.Set(ctx, orderID); err != nil {
		return err
	}
	c.setStateLocked(State{Phase: PhaseTracking, OrderID: orderID, Status: order.StatusUnknown})
	c.startWatchLocked(ctx, orderID)
	return nil
}

// Retry re-subscribes to the tracked order.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase != PhaseTracking {
		return ErrNoTrackedOrder
	}
	c.startWatchLocked(ctx, c.state.OrderID)
	return nil
}

// Dismiss ends tracking of a finished order or clears a failed submission.
func (c *Controller) Dismiss(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state.Phase {
	case PhaseNoActiveOrder:
		return nil
	case PhaseError:
		c.setStateLocked(State{Phase: PhaseNoActiveOrder})
		return nil
	case PhaseTracking:
		if !c.state.Status.IsTerminal() && c.state.Status != order.StatusError {
			return ErrOrderNotFinished
		}
	default:
		return ErrOrderNotFinished
	}
	if err := c.ref.Clear(ctx); err != nil {
		return err
	}
	c.stopWatchLocked()
	c.logger.InfoContext(ctx, "order dismissed", "order_id", c.state.OrderID, "status", c.state.Status)
	c.setStateLocked(State{Phase: PhaseNoActiveOrder})
	return nil
}

// Decrement lowers the product's quantity by one and removes the line instead of reaching zero.
func (c *Controller) Decrement(productID string) error {
	q := c.cart.Quantity(productID)
	switch {
	case q == 0:
		return cart.ErrLineNotFound
	case q == 1:
		c.cart.Remove(productID)
		return nil
	default:
		return c.cart.SetQuantity(productID, q-1)
	}
}

func (c *Controller) publishSubmitted(ctx context.Context, o *order.Order) {
	if c.publisher == nil {
		return
	}
	event := events.OrderSubmittedEvent{
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount.String(),
		ItemCount:   len(o.Items),
		CreatedAt:   o.CreatedAt,
	}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "Failed to publish OrderSubmittedEvent", "order_id", o.ID, "error", err)
	}
}

func (c *Controller) countRejected(ctx context.Context, reason Reason) {
	c.rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

// setStateLocked replaces the state and notifies observers. Caller holds mu.
func (c *Controller) setStateLocked(s State) {
	c.state = s
	for ch := range c.observers {
		select {
		case <-ch:
		default:
		}
		ch <- s.clone()
	}
}
