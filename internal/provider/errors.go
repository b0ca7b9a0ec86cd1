package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// QuotaError signals the provider refused the call for rate-limit or quota
// reasons. The gateway treats it as exhaustion and fails over.
type QuotaError struct {
	Provider string
	Reason   string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("provider %s quota exhausted: %s", e.Provider, e.Reason)
}

// TransientError signals a retryable failure (timeout, 5xx, network).
type TransientError struct {
	Provider string
	Reason   string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("provider %s transient error: %s", e.Provider, e.Reason)
}

// FatalError signals a non-retryable failure (bad request, auth).
type FatalError struct {
	Provider string
	Reason   string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("provider %s fatal error: %s", e.Provider, e.Reason)
}

// Classify maps an invocation error onto the outcome taxonomy. A per-call
// timeout counts as transient. Unknown errors are fatal: retrying a call we
// cannot interpret risks double-spending quota on a broken provider.
func Classify(err error) OutcomeKind {
	if err == nil {
		return OutcomeSuccess
	}
	var quota *QuotaError
	if errors.As(err, &quota) {
		return OutcomeQuotaExhausted
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return OutcomeTransientError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransientError
	}
	return OutcomeFatalError
}

// statusError converts an HTTP status into the matching signal error.
func statusError(name string, status int, body string) error {
	reason := fmt.Sprintf("status %d: %s", status, truncate(body, 500))
	switch {
	case status == http.StatusTooManyRequests:
		return &QuotaError{Provider: name, Reason: reason}
	case status >= 500:
		return &TransientError{Provider: name, Reason: reason}
	default:
		return &FatalError{Provider: name, Reason: reason}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
