package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/internal/order"
)

// Memory implements OrderStore in memory. Watchers are signalled on every
// change and re-read the document, so bursts of changes may coalesce.
type Memory struct {
	mu        sync.Mutex
	orders    map[string]*order.Order
	watchers  map[string]map[*memWatcher]struct{}
	now       func() time.Time
	createErr error
}

type memWatcher struct {
	notify chan struct{}
	fail   chan error
}

// NewMemory creates an empty in-memory order store.
func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[string]*order.Order),
		watchers: make(map[string]map[*memWatcher]struct{}),
		now:      time.Now,
	}
}

// FailCreates makes every following Create return err. A nil err restores normal behaviour.
func (m *Memory) FailCreates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// FailWatchers terminates every open watch with err.
func (m *Memory) FailWatchers(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, set := range m.watchers {
		for w := range set {
			w.fail <- err
		}
		delete(m.watchers, id)
	}
}

// Watchers returns the number of open watches on the order.
func (m *Memory) Watchers(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers[id])
}

func (m *Memory) Create(_ context.Context, draft order.Draft) (*order.Order, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, fmt.Errorf("%w: %v", storeerrors.ErrCreateOrder, m.createErr)
	}

	o := &order.Order{
		Draft:     draft,
		ID:        uuid.NewString(),
		Status:    order.StatusPending,
		CreatedAt: m.now().UTC(),
	}
	o.Items = slices.Clone(draft.Items)
	m.orders[o.ID] = o
	m.signal(o.ID)
	return o.Clone(), nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, storeerrors.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (m *Memory) ListByStatus(_ context.Context, status order.Status, offset, limit int32) ([]order.Order, error) {
	m.mu.Lock()
	list := make([]order.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			list = append(list, *o.Clone())
		}
	}
	m.mu.Unlock()

	slices.SortFunc(list, func(a, b order.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if int(offset) >= len(list) {
		return []order.Order{}, nil
	}
	end := len(list)
	if limit > 0 && int(offset+limit) < end {
		end = int(offset + limit)
	}
	return list[offset:end], nil
}

func (m *Memory) Transition(_ context.Context, id string, to order.Status, notes string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, storeerrors.ErrOrderNotFound
	}
	if err := o.Transition(to, notes, m.now().UTC()); err != nil {
		return nil, err
	}
	m.signal(id)
	return o.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return storeerrors.ErrOrderNotFound
	}
	delete(m.orders, id)
	m.signal(id)
	return nil
}

func (m *Memory) Watch(ctx context.Context, id string) (<-chan order.Change, error) {
	w := &memWatcher{notify: make(chan struct{}, 1), fail: make(chan error, 1)}
	m.mu.Lock()
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[*memWatcher]struct{})
	}
	m.watchers[id][w] = struct{}{}
	m.mu.Unlock()

	out := make(chan order.Change)
	go func() {
		defer close(out)
		defer m.unregister(id, w)

		if !send(ctx, out, m.current(id)) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.fail:
				send(ctx, out, order.Change{Err: fmt.Errorf("%w: %v", storeerrors.ErrWatchOrder, err)})
				return
			case <-w.notify:
				if !send(ctx, out, m.current(id)) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *Memory) current(id string) order.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Change{Deleted: true}
	}
	return order.Change{Order: o.Clone()}
}

// signal wakes the watchers of an order. Caller holds mu.
func (m *Memory) signal(id string) {
	for w := range m.watchers[id] {
		select {
		case w.notify <- struct{}{}:
		default:
		}
	}
}

func (m *Memory) unregister(id string, w *memWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.watchers[id]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(m.watchers, id)
		}
	}
}
