package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const refreshPageSize = 500

// PriceBook holds the current price of every known product.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]decimal.Decimal)}
}

// Price returns the current price of a product.
func (b *PriceBook) Price(productID string) (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[productID]
	return p, ok
}

// Set records the current price of a product.
func (b *PriceBook) Set(productID string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[productID] = price
}

// Refresh replaces the book with the prices of every product in the store.
// On error the book is left unchanged.
func (b *PriceBook) Refresh(ctx context.Context, store ProductStore) error {
	next := make(map[string]decimal.Decimal)
	for offset := int32(0); ; offset += refreshPageSize {
		page, err := store.FindAll(ctx, offset, refreshPageSize)
		if err != nil {
			return err
		}
		for _, p := range page {
			next[p.ID] = p.Price
		}
		if len(page) < refreshPageSize {
			break
		}
	}

	b.mu.Lock()
	b.prices = next
	b.mu.Unlock()
	return nil
}

// RunRefresher refreshes the book every interval until ctx is done.
func (b *PriceBook) RunRefresher(ctx context.Context, store ProductStore, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Refresh(ctx, store); err != nil {
				logger.WarnContext(ctx, "price book refresh failed", "error", err)
				continue
			}
			logger.DebugContext(ctx, "price book refreshed")
		}
	}
}
