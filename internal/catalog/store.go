// Package catalog provides product lookup and the live price book the cart reads from.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/abgdnv/storefront/internal/cart"
)

// Product is a catalog record.
type Product struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	ImageRef string          `json:"image_ref,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Stock    int32           `json:"stock"`
	Version  int32           `json:"version"`
}

// CartProduct returns the part of the product a cart line keeps.
func (p Product) CartProduct() cart.Product {
	return cart.Product{ID: p.ID, Name: p.Name, ImageRef: p.ImageRef, Price: p.Price}
}

// ProductStore is an interface for product lookups.
type ProductStore interface {
	// FindByID retrieves a single product by its unique identifier.
	// Returns ErrProductNotFound if no product exists with the given ID.
	FindByID(ctx context.Context, id string) (*Product, error)

	// FindAll returns available products ordered by name.
	// Returns an empty slice if no products exist.
	FindAll(ctx context.Context, offset, limit int32) ([]Product, error)
}
