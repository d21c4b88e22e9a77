package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
)

// InMemory implements ProductStore using an in-memory map.
type InMemory struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewInMemoryStore creates a product store seeded with products.
func NewInMemoryStore(products ...Product) *InMemory {
	s := &InMemory{products: make(map[string]Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// FindByID retrieves a product by its ID.
func (s *InMemory) FindByID(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, storeerrors.ErrProductNotFound
	}
	return &p, nil
}

// FindAll retrieves a page of products ordered by name.
func (s *InMemory) FindAll(_ context.Context, offset, limit int32) ([]Product, error) {
	s.mu.RLock()
	list := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		list = append(list, p)
	}
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if int(offset) >= len(list) {
		return []Product{}, nil
	}
	end := len(list)
	if limit > 0 && int(offset+limit) < end {
		end = int(offset + limit)
	}
	return list[offset:end], nil
}

// Put creates or replaces a product. The version is bumped on replace.
func (s *InMemory) Put(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.products[p.ID]; ok {
		p.Version = old.Version + 1
	} else if p.Version == 0 {
		p.Version = 1
	}
	s.products[p.ID] = p
}
