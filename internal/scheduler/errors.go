package scheduler

import (
	"context"
	"errors"
)

// Failure categories. Submission and confirmation errors abort the current
// batch, balance read errors abort the cycle, price errors abort only the
// balance report.
var (
	ErrBalanceRead  = errors.New("balance read failed")
	ErrPriceLookup  = errors.New("price lookup failed")
	ErrSubmission   = errors.New("submission failed")
	ErrConfirmation = errors.New("confirmation failed")
)

// Category returns the metrics label for err.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrBalanceRead):
		return "balance_read"
	case errors.Is(err, ErrPriceLookup):
		return "price_lookup"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrConfirmation):
		return "confirmation"
	default:
		return "other"
	}
}
