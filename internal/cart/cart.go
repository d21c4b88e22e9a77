// Package cart provides the in-memory cart of a device session.
package cart

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")
var ErrLineNotFound = errors.New("cart line not found")

// Product is the part of a catalog product the cart keeps on a line.
type Product struct {
	ID       string
	Name     string
	ImageRef string
	Price    decimal.Decimal
}

// Line is one product in the cart.
type Line struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	ImageRef  string          `json:"image_ref,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// PriceLookup returns the current price of a product.
type PriceLookup interface {
	Price(productID string) (decimal.Decimal, bool)
}

// Cart holds at most one line per product. It is safe for concurrent use.
type Cart struct {
	mu       sync.Mutex
	lines    []Line
	acked    map[string]bool
	revision uint64
	prices   PriceLookup
}

// New creates an empty cart. prices may be nil, in which case line prices are used as is.
func New(prices PriceLookup) *Cart {
	return &Cart{acked: make(map[string]bool), prices: prices}
}

// Add increments the quantity of the product's line or appends a new line.
// The line metadata is refreshed from product.
func (c *Cart) Add(product Product, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(product.ID); i >= 0 {
		l := &c.lines[i]
		l.Quantity += quantity
		l.Name = product.Name
		l.ImageRef = product.ImageRef
		l.UnitPrice = product.Price
		return nil
	}
	c.lines = append(c.lines, Line{
		ProductID: product.ID,
		Name:      product.Name,
		ImageRef:  product.ImageRef,
		UnitPrice: product.Price,
		Quantity:  quantity,
	})
	c.lineSetChanged()
	return nil
}

// Remove deletes the product's line. It is a no-op when the line is absent.
func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.lineSetChanged()
}

// SetQuantity replaces the quantity of an existing line.
// A quantity below 1 is rejected and the line is left unchanged; callers remove lines explicitly.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(productID)
	if i < 0 {
		return ErrLineNotFound
	}
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	c.lines[i].Quantity = quantity
	return nil
}

// Quantity returns the quantity of the product's line, or 0.
func (c *Cart) Quantity(productID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.indexOf(productID); i >= 0 {
		return c.lines[i].Quantity
	}
	return 0
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.lines) == 0 {
		return
	}
	c.lines = nil
	c.lineSetChanged()
}

// Subtract takes the given quantities off their lines, removing lines that reach zero.
// Lines added or raised since the quantities were taken keep the difference.
func (c *Cart) Subtract(quantities map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.lines[:0]
	removed := false
	for _, l := range c.lines {
		l.Quantity -= quantities[l.ProductID]
		if l.Quantity <= 0 {
			removed = true
			continue
		}
		kept = append(kept, l)
	}
	clear(c.lines[len(kept):])
	c.lines = kept
	if removed {
		c.lineSetChanged()
	}
}

// Total sums current price × quantity over all lines.
func (c *Cart) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(c.currentPrice(l).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return total
}

// Snapshot returns a copy of the lines in insertion order with UnitPrice set to the current price.
func (c *Cart) Snapshot() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Line, len(c.lines))
	for i, l := range c.lines {
		l.UnitPrice = c.currentPrice(l)
		out[i] = l
	}
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

// Revision changes every time the set of lines changes.
func (c *Cart) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// Acknowledge marks the product's line as explicitly accepted by the user.
func (c *Cart) Acknowledge(productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexOf(productID) < 0 {
		return ErrLineNotFound
	}
	c.acked[productID] = true
	return nil
}

// Acknowledged reports whether the product's line is acknowledged.
func (c *Cart) Acknowledged(productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked[productID]
}

// AllAcknowledged reports whether every line is acknowledged. An empty cart reports true.
func (c *Cart) AllAcknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.lines {
		if !c.acked[l.ProductID] {
			return false
		}
	}
	return true
}

func (c *Cart) indexOf(productID string) int {
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// lineSetChanged resets acknowledgements. Caller holds mu.
func (c *Cart) lineSetChanged() {
	c.revision++
	clear(c.acked)
}

func (c *Cart) currentPrice(l Line) decimal.Decimal {
	if c.prices != nil {
		if p, ok := c.prices.Price(l.ProductID); ok {
			return p
		}
	}
	return l.UnitPrice
}
