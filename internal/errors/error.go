// Package errors provides the sentinel errors of the remote order store.
package errors

import "errors"

var ErrCreateOrder = errors.New("failed to create order")
var ErrInvalidDraft = errors.New("invalid order draft")

var ErrOrderNotFound = errors.New("order not found")
var ErrFailedToFindOrder = errors.New("failed to find order")
var ErrFailedToListOrders = errors.New("failed to list orders")

var ErrUpdateOrder = errors.New("failed to update order")
var ErrOrderFinalized = errors.New("order already reached a terminal status")
var ErrInvalidTransition = errors.New("invalid order status transition")
var ErrInvalidStatus = errors.New("invalid order status")

var ErrDeleteOrder = errors.New("failed to delete order")

var ErrWatchOrder = errors.New("failed to watch order")

var ErrTransactionBegin = errors.New("failed to begin transaction")
var ErrTransactionCommit = errors.New("failed to commit transaction")
var ErrTransactionRollback = errors.New("failed to rollback transaction")

var ErrProductNotFound = errors.New("product not found")
var ErrFailedToFindProducts = errors.New("failed to find products")
