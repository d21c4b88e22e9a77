// Package messaging defines the event publishing contract used by the order lifecycle.
package messaging

import (
	"context"
)

// OrdersSubmittedSubject carries one message per order created by a storefront session.
const OrdersSubmittedSubject = "orders.submitted"

// OrdersSubjects matches every order subject; used when declaring the stream.
const OrdersSubjects = "orders.>"

type Event interface {
	Subject() string
	// Key identifies the event for de-duplication by the broker.
	Key() string
	Payload() ([]byte, error)
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
