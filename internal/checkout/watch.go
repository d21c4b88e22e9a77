package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/abgdnv/storefront/internal/order"
)

var errStreamClosed = errors.New("watch stream closed")

// stream is an open watch whose first element was already received.
type stream struct {
	first order.Change
	rest  <-chan order.Change
}

// startWatchLocked replaces any running watch with a new one for id. Caller holds mu.
func (c *Controller) startWatchLocked(ctx context.Context, id string) {
	c.stopWatchLocked()
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &watch{cancel: cancel, done: make(chan struct{})}
	c.watch = w
	gen := c.gen
	go func() {
		defer close(w.done)
		c.run(wctx, gen, id)
	}()
}

// stopWatchLocked cancels the running watch without waiting for it. Late
// deliveries are discarded by the generation check. Caller holds mu.
func (c *Controller) stopWatchLocked() {
	c.gen++
	if c.watch != nil {
		c.watch.cancel()
		c.watch = nil
	}
}

func (c *Controller) run(ctx context.Context, gen uint64, id string) {
	s, err := c.open(ctx, id)
	for {
		if err != nil {
			if ctx.Err() != nil || !c.fail(ctx, gen, id, err) {
				return
			}
			if s, err = c.reopen(ctx, id); err != nil {
				if ctx.Err() == nil {
					c.logger.WarnContext(ctx, "giving up on order watch", "order_id", id, "error", err)
				}
				return
			}
			c.logger.InfoContext(ctx, "order watch reconnected", "order_id", id)
		}
		if err = c.consume(ctx, gen, s); err == nil {
			return
		}
	}
}

// open subscribes to the order and waits for the first element.
func (c *Controller) open(ctx context.Context, id string) (stream, error) {
	ch, err := c.orders.Watch(ctx, id)
	if err != nil {
		return stream{}, err
	}
	select {
	case first, ok := <-ch:
		if !ok {
			return stream{}, errStreamClosed
		}
		if first.Err != nil {
			return stream{}, first.Err
		}
		return stream{first: first, rest: ch}, nil
	case <-ctx.Done():
		return stream{}, ctx.Err()
	}
}

// reopen retries open with exponential backoff within the configured attempts.
func (c *Controller) reopen(ctx context.Context, id string) (stream, error) {
	if c.reconnect.MaxAttempts == 0 {
		return stream{}, errors.New("reconnect disabled")
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnect.InitialBackoff
	if c.reconnect.MaxBackoff > 0 {
		b.MaxInterval = c.reconnect.MaxBackoff
	}
	return backoff.Retry(ctx, func() (stream, error) {
		return c.open(ctx, id)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.reconnect.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.DebugContext(ctx, "order watch reconnect failed", "order_id", id, "error", err, "retry_in", next)
		}),
	)
}

// consume applies the stream until it ends. It returns nil when tracking of
// this watch is over and the fault otherwise.
func (c *Controller) consume(ctx context.Context, gen uint64, s stream) error {
	if c.apply(ctx, gen, s.first) {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-s.rest:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errStreamClosed
			}
			if ch.Err != nil {
				return ch.Err
			}
			if c.apply(ctx, gen, ch) {
				return nil
			}
		}
	}
}

// apply handles one delivered document or tombstone. It reports whether the watch is over.
func (c *Controller) apply(ctx context.Context, gen uint64, ch order.Change) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state.Phase != PhaseTracking {
		return true
	}

	if ch.Deleted || ch.Order == nil {
		id := c.state.OrderID
		if err := c.ref.Clear(ctx); err != nil {
			// the reference is cleared again after the next restart resolves the tombstone
			c.logger.WarnContext(ctx, "failed to clear active order reference", "order_id", id, "error", err)
		}
		c.stopWatchLocked()
		c.logger.InfoContext(ctx, "tracked order removed upstream", "order_id", id)
		c.setStateLocked(State{Phase: PhaseNoActiveOrder})
		return true
	}

	if ch.Order.Status == c.state.Status {
		return false
	}
	c.logger.InfoContext(ctx, "order status changed", "order_id", c.state.OrderID, "from", c.state.Status, "to", ch.Order.Status)
	c.setStateLocked(State{Phase: PhaseTracking, OrderID: c.state.OrderID, Status: ch.Order.Status, Order: ch.Order.Clone()})
	return false
}

// fail marks the tracked status as unreliable. It reports false when this watch is stale.
func (c *Controller) fail(ctx context.Context, gen uint64, id string, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state.Phase != PhaseTracking {
		return false
	}
	c.logger.WarnContext(ctx, "order watch failed", "order_id", id, "error", cause)
	next := c.state
	next.Status = order.StatusError
	next.Err = fmt.Errorf("%w: %w", ErrSubscriptionFailed, cause)
	c.setStateLocked(next)
	return true
}
