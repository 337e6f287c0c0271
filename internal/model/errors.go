package model

import (
	"context"
	"errors"
)

// Sentinel errors for the engine's error taxonomy. Callers classify with
// errors.Is; adapters wrap these with context-specific messages.
var (
	// ErrOutOfOrder rejects an utterance whose seq is not current max + 1.
	ErrOutOfOrder = errors.New("utterance out of order")
	// ErrGenerationRejected drops a single malformed candidate from a batch.
	ErrGenerationRejected = errors.New("candidate rejected")
	// ErrLookupUnavailable marks a transient verification failure (retryable).
	ErrLookupUnavailable = errors.New("lookup unavailable")
	// ErrNotFound marks a definitive miss for a referenced entity (nonfatal).
	ErrNotFound = errors.New("entity not found")
	// ErrRetryBudgetExceeded fails a task whose stage ran out of attempts.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
	// ErrInvalidTransition rejects an operation on a task in the wrong state.
	ErrInvalidTransition = errors.New("invalid task transition")
)

// ErrorKind maps an error to its wire/taxonomy kind, or "adapter_error" for
// anything outside the taxonomy. Timeouts and cancellations get their own
// kinds so a stalled task shows why it stalled.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrGenerationRejected):
		return "generation_rejected"
	case errors.Is(err, ErrLookupUnavailable):
		return "lookup_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRetryBudgetExceeded):
		return "retry_budget_exceeded"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "adapter_error"
}
