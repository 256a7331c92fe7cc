package models

import "errors"

// Settlement error taxonomy. Validation errors surface synchronously to the
// caller; transient chain errors are retried by the schedule.
var (
	ErrInvalidTransition   = errors.New("invalid deal status transition")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrInvalidAddress      = errors.New("invalid destination address")
	ErrAmountMismatch      = errors.New("partial amounts do not sum to deal amount")
	ErrIntentExpired       = errors.New("deposit intent expired")
	ErrChainUnavailable    = errors.New("chain gateway unavailable")
	ErrConfirmationTimeout = errors.New("transfer confirmation timed out")
	ErrDuplicateCredit     = errors.New("transaction already credited")
	ErrNotFound            = errors.New("record not found")
	ErrNotCancellable      = errors.New("not cancellable in its current state")
)
