package checkout

import (
	"errors"
	"fmt"
)

var ErrValidationFailed = errors.New("order validation failed")
var ErrRemoteWriteFailed = errors.New("failed to submit order")
var ErrOrphanedRemoteWrite = errors.New("order submitted but not recorded on this device")
var ErrSubscriptionFailed = errors.New("order status subscription failed")

var ErrOrderInFlight = errors.New("an order is already in flight")
var ErrOrderNotFinished = errors.New("order has not reached a final status")
var ErrNoTrackedOrder = errors.New("no order is being tracked")

// Reason identifies a failed checkout precondition.
type Reason string

const (
	ReasonAddressMissing     Reason = "address_not_selected"
	ReasonItemsNotAccepted   Reason = "items_not_accepted"
	ReasonTermsNotAccepted   Reason = "terms_not_accepted"
	ReasonCartEmpty          Reason = "cart_empty"
	ReasonInvalidOrder       Reason = "invalid_order"
	ReasonOrderInFlight      Reason = "order_in_flight"
	ReasonRemoteWriteFailure Reason = "remote_write_failed"
)

// ValidationError reports a user-correctable checkout failure. It matches ErrValidationFailed.
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// OrphanedWriteError reports an order that exists remotely while the device
// failed to record it. It matches ErrOrphanedRemoteWrite and the underlying cause.
type OrphanedWriteError struct {
	OrderID string
	Err     error
}

func (e *OrphanedWriteError) Error() string {
	return fmt.Sprintf("%s (order %s): %v", ErrOrphanedRemoteWrite, e.OrderID, e.Err)
}

func (e *OrphanedWriteError) Unwrap() []error {
	return []error{ErrOrphanedRemoteWrite, e.Err}
}
