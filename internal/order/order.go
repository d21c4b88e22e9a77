// Package order defines the order documents shared by the storefront, the
// remote order store and the order desk.
package order

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	storeerrors "github.com/abgdnv/storefront/internal/errors"
)

// Status is the lifecycle status of an order.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"

	// StatusUnknown is never stored. The storefront uses it after a restart
	// until the first watch delivery resolves the real status.
	StatusUnknown Status = "unknown"
	// StatusError is never stored. It marks a tracked order whose watch failed.
	StatusError Status = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// IsStored reports whether the status is one of the values persisted by the store.
func (s Status) IsStored() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

// ParseStatus converts a stored status value.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.IsStored() {
		return "", fmt.Errorf("%q: %w", v, storeerrors.ErrInvalidStatus)
	}
	return s, nil
}

// Address is an opaque shipping address snapshot, forwarded verbatim.
type Address struct {
	Label      string `json:"label,omitempty"`
	Recipient  string `json:"recipient" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone,omitempty"`
}

// Item is an order line with a price snapshot taken at submission time.
type Item struct {
	ProductID         string          `json:"product_id" validate:"required"`
	Name              string          `json:"name"`
	UnitPriceSnapshot decimal.Decimal `json:"unit_price_snapshot"`
	Quantity          int             `json:"quantity" validate:"required,min=1"`
	ImageRef          string          `json:"image_ref,omitempty"`
}

// Subtotal returns UnitPriceSnapshot × Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPriceSnapshot.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Draft is the client-assembled order before submission. It is immutable once built.
type Draft struct {
	UserID             string          `json:"user_id" validate:"required"`
	UserDisplayName    string          `json:"user_display_name"`
	UserEmail          string          `json:"user_email" validate:"omitempty,email"`
	Items              []Item          `json:"items" validate:"required,gt=0,dive"`
	ShippingAddress    Address         `json:"shipping_address" validate:"-"`
	PaymentMethodLabel string          `json:"payment_method_label"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
}

var validate = validator.New()

// Validate checks the draft fields and that TotalAmount equals the sum of the item subtotals.
func (d *Draft) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", storeerrors.ErrInvalidDraft, err)
	}
	sum := decimal.Zero
	for _, it := range d.Items {
		if it.UnitPriceSnapshot.IsNegative() {
			return fmt.Errorf("%w: negative price for product %s", storeerrors.ErrInvalidDraft, it.ProductID)
		}
		sum = sum.Add(it.Subtotal())
	}
	if !sum.Equal(d.TotalAmount) {
		return fmt.Errorf("%w: total %s does not match items sum %s", storeerrors.ErrInvalidDraft, d.TotalAmount, sum)
	}
	return nil
}

// NewDraft copies items into a draft and computes its total.
func NewDraft(userID, displayName, email string, items []Item, address Address, paymentLabel string) Draft {
	copied := make([]Item, len(items))
	copy(copied, items)
	total := decimal.Zero
	for _, it := range copied {
		total = total.Add(it.Subtotal())
	}
	return Draft{
		UserID:             userID,
		UserDisplayName:    displayName,
		UserEmail:          email,
		Items:              copied,
		ShippingAddress:    address,
		PaymentMethodLabel: paymentLabel,
		TotalAmount:        total,
	}
}

// Order is the remote order document.
type Order struct {
	Draft
	ID         string     `json:"id"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = make([]Item, len(o.Items))
	copy(c.Items, o.Items)
	if o.AcceptedAt != nil {
		t := *o.AcceptedAt
		c.AcceptedAt = &t
	}
	if o.RejectedAt != nil {
		t := *o.RejectedAt
		c.RejectedAt = &t
	}
	return &c
}

// Transition moves a pending order to a terminal status at the given time.
// Returns ErrInvalidTransition for a non-terminal target and ErrOrderFinalized
// when the order already left pending.
func (o *Order) Transition(to Status, notes string, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("%s -> %s: %w", o.Status, to, storeerrors.ErrInvalidTransition)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("order %s is %s: %w", o.ID, o.Status, storeerrors.ErrOrderFinalized)
	}
	o.Status = to
	o.Notes = notes
	switch to {
	case StatusAccepted:
		o.AcceptedAt = &at
	case StatusRejected:
		o.RejectedAt = &at
	}
	return nil
}

// Change is one element of a watch stream: the current document, a tombstone
// when the document no longer exists, or a terminal fault.
type Change struct {
	Order   *Order
	Deleted bool
	Err     error
}
