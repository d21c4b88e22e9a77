// Package refstore keeps the id of the order a device is currently tracking.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrRefStore = errors.New("active order reference store failed")

// Store is durable single-key storage of the active order id. Last write wins.
type Store interface {
	// Get returns the stored order id. ok is false when no order is in flight.
	Get(ctx context.Context) (id string, ok bool, err error)
	Set(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// KeyPrefix is prepended to the device id to form the Redis key.
const KeyPrefix = "storefront:active-order:"

// Redis implements Store with one Redis key per device and no expiry.
type Redis struct {
	client redis.Cmdable
	key    string
}

// NewRedis creates a Store for the given device.
func NewRedis(client redis.Cmdable, deviceID string) *Redis {
	return &Redis{client: client, key: KeyPrefix + deviceID}
}

func (r *Redis) Get(ctx context.Context) (string, bool, error) {
	id, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: get %s: %v", ErrRefStore, r.key, err)
	}
	return id, true, nil
}

func (r *Redis) Set(ctx context.Context, id string) error {
	if err := r.client.Set(ctx, r.key, id, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrRefStore, r.key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrRefStore, r.key, err)
	}
	return nil
}

// Memory implements Store in memory. Failures can be injected per operation.
type Memory struct {
	mu       sync.Mutex
	id       string
	ok       bool
	getErr   error
	setErr   error
	clearErr error
}

func NewMemory() *Memory {
	return &Memory{}
}

// Fail makes the following Get, Set and Clear calls return the given errors. nil restores an operation.
func (m *Memory) Fail(getErr, setErr, clearErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr, m.setErr, m.clearErr = getErr, setErr, clearErr
}

func (m *Memory) Get(context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRefStore, m.getErr)
	}
	return m.id, m.ok, nil
}

func (m *Memory) Set(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return fmt.Errorf("%w: %v", ErrRefStore, m.setErr)
	}
	m.id, m.ok = id, true
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return fmt.Errorf("%w: %v", ErrRefStore, m.clearErr)
	}
	m.id, m.ok = "", false
	return nil
}
