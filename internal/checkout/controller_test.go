package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abgdnv/storefront/internal/cart"
	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
	"github.com/abgdnv/storefront/internal/profile"
	"github.com/abgdnv/storefront/internal/refstore"
	"github.com/abgdnv/storefront/internal/store"
	"github.com/abgdnv/storefront/pkg/config"
	"github.com/abgdnv/storefront/pkg/messaging"
	"github.com/abgdnv/storefront/pkg/messaging/events"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event messaging.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type prices struct {
	mu sync.Mutex
	m  map[string]decimal.Decimal
}

func (p *prices) Price(id string) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[id]
	return v, ok
}

func (p *prices) set(id string, v decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[id] = v
}

var termsUpdated = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ctx       context.Context
	cart      *cart.Cart
	prices    *prices
	orders    *store.Memory
	ref       *refstore.Memory
	session   *profile.Session
	publisher *mockPublisher
	ctrl      *Controller
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ctx:       context.Background(),
		prices:    &prices{m: make(map[string]decimal.Decimal)},
		orders:    store.NewMemory(),
		ref:       refstore.NewMemory(),
		session:   profile.NewSession(profile.User{ID: "user-1", DisplayName: "Ada", Email: "ada@example.com"}),
		publisher: &mockPublisher{},
	}
	f.cart = cart.New(f.prices)
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.ctrl = f.newController(opts...)
	t.Cleanup(f.ctrl.Stop)
	return f
}

func (f *fixture) newController(opts ...Option) *Controller {
	return f.newControllerWith(f.orders, opts...)
}

func (f *fixture) newControllerWith(orders store.OrderStore, opts ...Option) *Controller {
	return New(Deps{
		Cart:      f.cart,
		Orders:    orders,
		Ref:       f.ref,
		Profile:   f.session,
		Terms:     profile.Terms{LastUpdated: termsUpdated},
		Publisher: f.publisher,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts...)
}

// ready fills the cart with p1 at 10.00 × 2 and satisfies every precondition.
func (f *fixture) ready(t *testing.T) {
	t.Helper()
	require.NoError(t, f.cart.Add(cart.Product{ID: "p1", Name: "Coffee", Price: decimal.RequireFromString("10.00")}, 2))
	require.NoError(t, f.cart.Acknowledge("p1"))
	f.session.SelectAddress(order.Address{Recipient: "Ada", Line1: "Main St 1", City: "London", Country: "GB"})
	f.session.SetTermsAcceptedAt(termsUpdated.Add(time.Hour))
}

func waitForState(t *testing.T, c *Controller, cond func(State) bool) State {
	t.Helper()
	require.Eventually(t, func() bool { return cond(c.State()) }, 2*time.Second, 5*time.Millisecond, "state: %+v", c.State())
	return c.State()
}

func Test_Confirm_Scenario(t *testing.T) {
	// given
	f := newFixture(t)
	f.ready(t)

	// when
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{PaymentMethodLabel: "Visa •••• 4242"})

	// then
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(created.TotalAmount), "total: %s", created.TotalAmount)
	state := f.ctrl.State()
	assert.Equal(t, PhaseTracking, state.Phase)
	assert.Equal(t, created.ID, state.OrderID)
	assert.Equal(t, order.StatusPending, state.Status)
	assert.Equal(t, 0, f.cart.Len())

	id, ok, err := f.ref.Get(f.ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, created.ID, id)

	stored, err := f.orders.FindByID(f.ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "London", stored.ShippingAddress.City)
	assert.Equal(t, "Visa •••• 4242", stored.PaymentMethodLabel)

	f.publisher.AssertCalled(t, "Publish", mock.Anything, mock.MatchedBy(func(e messaging.Event) bool {
		ev, ok := e.(events.OrderSubmittedEvent)
		return ok && ev.OrderID == created.ID && ev.TotalAmount == "20" && ev.ItemCount == 1
	}))
	assert.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)
}

func Test_Confirm_PublishFailureDoesNotFailSubmission(t *testing.T) {
	f := newFixture(t)
	f.publisher = &mockPublisher{}
	f.publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats down"))
	f.ctrl = f.newController()
	t.Cleanup(f.ctrl.Stop)
	f.ready(t)

	_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})

	require.NoError(t, err)
	assert.Equal(t, PhaseTracking, f.ctrl.State().Phase)
	f.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func Test_Confirm_Preconditions(t *testing.T) {
	testCases := []struct {
		name     string
		prepare  func(f *fixture)
		expected Reason
	}{
		{
			// P6: the address check runs before the acknowledgement check
			name: "no address and unacknowledged lines",
			prepare: func(f *fixture) {
				f.session.ClearAddress()
				_ = f.cart.Add(cart.Product{ID: "p2", Price: decimal.NewFromInt(1)}, 1)
			},
			expected: ReasonAddressMissing,
		},
		{
			name: "unacknowledged line",
			prepare: func(f *fixture) {
				_ = f.cart.Add(cart.Product{ID: "p2", Price: decimal.NewFromInt(1)}, 1)
			},
			expected: ReasonItemsNotAccepted,
		},
		{
			name: "terms accepted before the last update",
			prepare: func(f *fixture) {
				f.session.SetTermsAcceptedAt(termsUpdated.Add(-time.Hour))
			},
			expected: ReasonTermsNotAccepted,
		},
		{
			name: "terms never accepted",
			prepare: func(f *fixture) {
				f.session.SetTermsAcceptedAt(time.Time{})
			},
			expected: ReasonTermsNotAccepted,
		},
		{
			name: "empty cart",
			prepare: func(f *fixture) {
				f.cart.Clear()
			},
			expected: ReasonCartEmpty,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// given
			f := newFixture(t)
			f.ready(t)
			tc.prepare(f)
			before := f.cart.Snapshot()

			// when
			_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})

			// then
			require.ErrorIs(t, err, ErrValidationFailed)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.expected, verr.Reason)
			assert.Equal(t, PhaseNoActiveOrder, f.ctrl.State().Phase)
			assert.Equal(t, before, f.cart.Snapshot())
			all, lerr := f.orders.ListByStatus(f.ctx, "", 0, 0)
			require.NoError(t, lerr)
			assert.Empty(t, all, "no remote write")
			_, ok, _ := f.ref.Get(f.ctx)
			assert.False(t, ok)
			f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
		})
	}
}

func Test_Confirm_RejectedWhileTracking(t *testing.T) {
	// given an order in flight
	f := newFixture(t)
	f.ready(t)
	_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	f.ready(t)

	// when
	_, err = f.ctrl.Confirm(f.ctx, ConfirmRequest{})

	// then
	assert.ErrorIs(t, err, ErrOrderInFlight)
	all, err := f.orders.ListByStatus(f.ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 1, f.cart.Len(), "cart of the rejected attempt is kept")
}

// blockingStore holds Create until release is closed.
type blockingStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Create(ctx context.Context, d order.Draft) (*order.Order, error) {
	close(b.entered)
	<-b.release
	return b.Memory.Create(ctx, d)
}

func Test_Confirm_RejectedWhileSubmitting(t *testing.T) {
	// given a submission that is still waiting for the remote store
	f := newFixture(t)
	blocking := &blockingStore{Memory: f.orders, entered: make(chan struct{}), release: make(chan struct{})}
	f.ctrl = New(Deps{Cart: f.cart, Orders: blocking, Ref: f.ref, Profile: f.session, Terms: profile.Terms{LastUpdated: termsUpdated}})
	t.Cleanup(f.ctrl.Stop)
	f.ready(t)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
		firstErr <- err
	}()
	<-blocking.entered
	assert.Equal(t, PhaseSubmitting, f.ctrl.State().Phase)

	// when
	_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})

	// then
	assert.ErrorIs(t, err, ErrOrderInFlight)
	close(blocking.release)
	require.NoError(t, <-firstErr)
	all, err := f.orders.ListByStatus(f.ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func Test_Confirm_SnapshotIsImmutable(t *testing.T) {
	// given
	f := newFixture(t)
	f.ready(t)
	f.prices.set("p1", decimal.RequireFromString("12.50"))

	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(created.TotalAmount), "draft uses the price current at confirm time")

	// when the product price changes after submission
	f.prices.set("p1", decimal.NewFromInt(99))

	// then
	stored, err := f.orders.FindByID(f.ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(25).Equal(stored.TotalAmount))
	assert.True(t, decimal.RequireFromString("12.50").Equal(stored.Items[0].UnitPriceSnapshot))
}

func Test_Confirm_RemoteWriteFailure(t *testing.T) {
	// given
	f := newFixture(t)
	f.ready(t)
	f.orders.FailCreates(errors.New("unavailable"))

	// when
	_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})

	// then
	require.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.ErrorIs(t, err, storeerrors.ErrCreateOrder)
	state := f.ctrl.State()
	assert.Equal(t, PhaseError, state.Phase)
	assert.ErrorIs(t, state.Err, ErrRemoteWriteFailed)
	assert.Equal(t, 1, f.cart.Len(), "cart is untouched")
	_, ok, _ := f.ref.Get(f.ctx)
	assert.False(t, ok)

	// and a retry in full succeeds once the store recovers
	f.orders.FailCreates(nil)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	assert.Equal(t, created.ID, f.ctrl.State().OrderID)
}

func Test_Confirm_OrphanedWrite(t *testing.T) {
	// given a reference store that cannot be written
	f := newFixture(t)
	f.ready(t)
	f.ref.Fail(nil, errors.New("disk full"), nil)

	// when
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})

	// then
	require.ErrorIs(t, err, ErrOrphanedRemoteWrite)
	var oerr *OrphanedWriteError
	require.ErrorAs(t, err, &oerr)
	require.NotNil(t, created)
	assert.Equal(t, created.ID, oerr.OrderID)
	assert.Equal(t, PhaseError, f.ctrl.State().Phase)
	assert.Equal(t, 1, f.cart.Len(), "cart is untouched")
	_, ferr := f.orders.FindByID(f.ctx, created.ID)
	assert.NoError(t, ferr, "order exists remotely")

	// and the user can adopt the orphaned order once storage recovers
	f.ref.Fail(nil, nil, nil)
	require.NoError(t, f.ctrl.Track(f.ctx, oerr.OrderID))
	waitForState(t, f.ctrl, func(s State) bool {
		return s.Phase == PhaseTracking && s.Status == order.StatusPending
	})
	id, ok, _ := f.ref.Get(f.ctx)
	assert.True(t, ok)
	assert.Equal(t, created.ID, id)
}

func Test_Start_RecoversTrackedOrder(t *testing.T) {
	// given a stored reference to an accepted order
	f := newFixture(t)
	o, err := f.orders.Create(f.ctx, order.NewDraft("user-1", "", "",
		[]order.Item{{ProductID: "p1", UnitPriceSnapshot: decimal.NewFromInt(1), Quantity: 1}}, order.Address{}, ""))
	require.NoError(t, err)
	_, err = f.orders.Transition(f.ctx, o.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	require.NoError(t, f.ref.Set(f.ctx, o.ID))

	// when
	require.NoError(t, f.ctrl.Start(f.ctx))

	// then
	state := waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusAccepted })
	assert.Equal(t, PhaseTracking, state.Phase)
	assert.Equal(t, o.ID, state.OrderID)
}

func Test_Start_UnknownUntilFirstDelivery(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ref.Set(f.ctx, "X"))
	// the watch is opened but the store never answers
	f.ctrl = New(Deps{Cart: f.cart, Orders: silentStore{f.orders}, Ref: f.ref, Profile: f.session})
	t.Cleanup(f.ctrl.Stop)

	require.NoError(t, f.ctrl.Start(f.ctx))

	state := f.ctrl.State()
	assert.Equal(t, PhaseTracking, state.Phase)
	assert.Equal(t, "X", state.OrderID)
	assert.Equal(t, order.StatusUnknown, state.Status)
}

type silentStore struct {
	*store.Memory
}

func (silentStore) Watch(ctx context.Context, _ string) (<-chan order.Change, error) {
	ch := make(chan order.Change)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func Test_Start_WithoutReference(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Start(f.ctx))

	assert.Equal(t, PhaseNoActiveOrder, f.ctrl.State().Phase)

	f.ref.Fail(errors.New("io error"), nil, nil)
	assert.ErrorIs(t, f.ctrl.Start(f.ctx), refstore.ErrRefStore)
}

func Test_Watch_DeletionClearsState(t *testing.T) {
	// given a tracked order
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	// when the order is deleted upstream
	require.NoError(t, f.orders.Delete(f.ctx, created.ID))

	// then
	waitForState(t, f.ctrl, func(s State) bool { return s.Phase == PhaseNoActiveOrder })
	_, ok, err := f.ref.Get(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 0 }, time.Second, 5*time.Millisecond)

	// and a new order can be submitted
	f.ready(t)
	_, err = f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	assert.NoError(t, err)
}

func Test_Watch_StatusTransitions(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	obsCtx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	states := f.ctrl.Observe(obsCtx)
	assert.Equal(t, PhaseNoActiveOrder, (<-states).Phase)

	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusRejected, "out of stock")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s.Status != order.StatusRejected {
				continue
			}
			assert.Equal(t, PhaseTracking, s.Phase)
			require.NotNil(t, s.Order)
			assert.Equal(t, "out of stock", s.Order.Notes)
			_, ok, _ := f.ref.Get(f.ctx)
			assert.True(t, ok, "status changes do not touch the reference")
			cancel()
			for range states {
			}
			return
		case <-deadline:
			t.Fatalf("rejected status not observed, state: %+v", f.ctrl.State())
		}
	}
}

func Test_Watch_FaultWithoutReconnect(t *testing.T) {
	// given
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	// when the subscription fails
	f.orders.FailWatchers(errors.New("connection reset"))

	// then the status is forced to error and the order stays tracked
	state := waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusError })
	assert.Equal(t, PhaseTracking, state.Phase)
	assert.ErrorIs(t, state.Err, ErrSubscriptionFailed)
	_, ok, _ := f.ref.Get(f.ctx)
	assert.True(t, ok)

	// and a manual retry restores it
	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	require.NoError(t, f.ctrl.Retry(f.ctx))
	state = waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusAccepted })
	assert.NoError(t, state.Err)
}

// flakyWatchStore fails the given number of Watch calls after the first one.
type flakyWatchStore struct {
	*store.Memory
	mu       sync.Mutex
	calls    int
	failures int
}

func (s *flakyWatchStore) Watch(ctx context.Context, id string) (<-chan order.Change, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls > 1 && s.calls <= 1+s.failures
	s.mu.Unlock()
	if fail {
		return nil, errors.New("listener unavailable")
	}
	return s.Memory.Watch(ctx, id)
}

func (s *flakyWatchStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func Test_Watch_ReconnectsWithBackoff(t *testing.T) {
	// given
	f := newFixture(t)
	flaky := &flakyWatchStore{Memory: f.orders, failures: 2}
	f.ctrl = New(Deps{Cart: f.cart, Orders: flaky, Ref: f.ref, Profile: f.session, Terms: profile.Terms{LastUpdated: termsUpdated}},
		WithReconnect(config.ReconnectConfig{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}))
	t.Cleanup(f.ctrl.Stop)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	// when the subscription drops and the order changes meanwhile
	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	f.orders.FailWatchers(errors.New("connection reset"))

	// then the controller resubscribes on its own
	state := waitForState(t, f.ctrl, func(s State) bool {
		return flaky.Calls() >= 4 && s.Status == order.StatusAccepted && s.Err == nil
	})
	assert.Equal(t, PhaseTracking, state.Phase)
}

func Test_Watch_ReconnectGivesUp(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyWatchStore{Memory: f.orders, failures: 100}
	f.ctrl = New(Deps{Cart: f.cart, Orders: flaky, Ref: f.ref, Profile: f.session, Terms: profile.Terms{LastUpdated: termsUpdated}},
		WithReconnect(config.ReconnectConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))
	t.Cleanup(f.ctrl.Stop)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	f.orders.FailWatchers(errors.New("connection reset"))

	require.Eventually(t, func() bool { return flaky.Calls() == 4 }, 2*time.Second, 5*time.Millisecond)
	f.ctrl.Stop()
	state := f.ctrl.State()
	assert.Equal(t, order.StatusError, state.Status)
	assert.ErrorIs(t, state.Err, ErrSubscriptionFailed)
	assert.Equal(t, 4, flaky.Calls(), "one initial watch and three reconnect attempts")
}

func Test_Dismiss(t *testing.T) {
	// given
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)

	// a pending order cannot be dismissed
	assert.ErrorIs(t, f.ctrl.Dismiss(f.ctx), ErrOrderNotFinished)

	// when it is accepted upstream
	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusAccepted })

	// then dismissing clears the reference
	require.NoError(t, f.ctrl.Dismiss(f.ctx))
	assert.Equal(t, PhaseNoActiveOrder, f.ctrl.State().Phase)
	_, ok, _ := f.ref.Get(f.ctx)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 0 }, time.Second, 5*time.Millisecond)

	// dismissing again is a no-op
	assert.NoError(t, f.ctrl.Dismiss(f.ctx))
}

func Test_Dismiss_KeepsStateWhenClearFails(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusRejected, "")
	require.NoError(t, err)
	waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusRejected })
	f.ref.Fail(nil, nil, errors.New("io error"))

	assert.ErrorIs(t, f.ctrl.Dismiss(f.ctx), refstore.ErrRefStore)
	assert.Equal(t, PhaseTracking, f.ctrl.State().Phase)
}

func Test_StopAndStart(t *testing.T) {
	// given a tracked order
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 1 }, time.Second, 5*time.Millisecond)

	// when the screen is closed
	f.ctrl.Stop()

	// then the subscription is released but the order stays tracked
	assert.Eventually(t, func() bool { return f.orders.Watchers(created.ID) == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseTracking, f.ctrl.State().Phase)

	// changes while closed are picked up on re-open
	_, err = f.orders.Transition(f.ctx, created.ID, order.StatusAccepted, "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, f.ctrl.State().Status)

	require.NoError(t, f.ctrl.Start(f.ctx))
	waitForState(t, f.ctrl, func(s State) bool { return s.Status == order.StatusAccepted })
}

func Test_RestartWithNewController(t *testing.T) {
	// given an order submitted by a previous process
	f := newFixture(t)
	f.ready(t)
	created, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	f.ctrl.Stop()

	// when a new controller starts over the same stores
	restarted := f.newController()
	t.Cleanup(restarted.Stop)
	require.NoError(t, restarted.Start(f.ctx))

	// then it tracks the same order
	state := waitForState(t, restarted, func(s State) bool { return s.Status == order.StatusPending })
	assert.Equal(t, created.ID, state.OrderID)
}

func Test_Track_RejectedWhileTracking(t *testing.T) {
	f := newFixture(t)
	f.ready(t)
	_, err := f.ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)

	assert.ErrorIs(t, f.ctrl.Track(f.ctx, "other"), ErrOrderInFlight)
	assert.ErrorIs(t, f.ctrl.Track(f.ctx, ""), ErrValidationFailed)
}

func Test_Retry_WithoutOrder(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ctrl.Retry(f.ctx), ErrNoTrackedOrder)
}

func Test_Decrement(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cart.Add(cart.Product{ID: "p1", Price: decimal.NewFromInt(1)}, 2))

	require.NoError(t, f.ctrl.Decrement("p1"))
	assert.Equal(t, 1, f.cart.Quantity("p1"))

	require.NoError(t, f.ctrl.Decrement("p1"))
	assert.Equal(t, 0, f.cart.Len(), "line is removed instead of reaching zero")

	assert.ErrorIs(t, f.ctrl.Decrement("p1"), cart.ErrLineNotFound)
}

// blockingOrders holds Create until release is closed.
type blockingOrders struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
}

func (b *blockingOrders) Create(ctx context.Context, draft order.Draft) (*order.Order, error) {
	close(b.entered)
	<-b.release
	return b.Memory.Create(ctx, draft)
}

func Test_Confirm_KeepsCartChangesMadeWhileSubmitting(t *testing.T) {
	// given a submission waiting on the remote store
	f := newFixture(t)
	f.ready(t)
	orders := &blockingOrders{Memory: f.orders, entered: make(chan struct{}), release: make(chan struct{})}
	ctrl := f.newControllerWith(orders)
	t.Cleanup(ctrl.Stop)

	type result struct {
		order *order.Order
		err   error
	}
	done := make(chan result, 1)
	go func() {
		o, err := ctrl.Confirm(f.ctx, ConfirmRequest{})
		done <- result{o, err}
	}()
	<-orders.entered

	// when the cart changes before the order is created
	require.NoError(t, f.cart.Add(cart.Product{ID: "p1", Name: "Coffee", Price: decimal.RequireFromString("10.00")}, 1))
	require.NoError(t, f.cart.Add(cart.Product{ID: "p2", Name: "Tea", Price: decimal.RequireFromString("3.00")}, 1))
	close(orders.release)
	res := <-done

	// then only the submitted quantities leave the cart
	require.NoError(t, res.err)
	require.Len(t, res.order.Items, 1)
	assert.Equal(t, 2, res.order.Items[0].Quantity)
	assert.Equal(t, 2, f.cart.Len())
	assert.Equal(t, 1, f.cart.Quantity("p1"))
	assert.Equal(t, 1, f.cart.Quantity("p2"))
}

// scriptedOrders serves every watch from a channel fed by the test.
type scriptedOrders struct {
	*store.Memory
	changes chan order.Change
}

func (s *scriptedOrders) Watch(context.Context, string) (<-chan order.Change, error) {
	return s.changes, nil
}

func Test_Watch_SameStatusIsIgnored(t *testing.T) {
	// given a tracked pending order and an observer that saw it
	f := newFixture(t)
	f.ready(t)
	orders := &scriptedOrders{Memory: f.orders, changes: make(chan order.Change)}
	ctrl := f.newControllerWith(orders)
	t.Cleanup(ctrl.Stop)

	created, err := ctrl.Confirm(f.ctx, ConfirmRequest{})
	require.NoError(t, err)
	obsCtx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	states := ctrl.Observe(obsCtx)
	initial := <-states
	require.Equal(t, order.StatusPending, initial.Status)

	// when the same status is delivered again
	redelivered := created.Clone()
	redelivered.Notes = "re-read"
	for range 3 {
		orders.changes <- order.Change{Order: redelivered.Clone()}
	}

	// then nothing is published and the tracked document is unchanged
	select {
	case s := <-states:
		t.Fatalf("unexpected state: %+v", s)
	default:
	}
	state := ctrl.State()
	assert.Equal(t, PhaseTracking, state.Phase)
	assert.Empty(t, state.Order.Notes)

	// and a real change still goes through
	accepted := created.Clone()
	accepted.Status = order.StatusAccepted
	orders.changes <- order.Change{Order: accepted}
	select {
	case s := <-states:
		assert.Equal(t, order.StatusAccepted, s.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("accepted state was not delivered")
	}
}
