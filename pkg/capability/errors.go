package capability

import (
	"errors"
	"fmt"
)

// Kind classifies an invocation failure for the retry policy.
type Kind string

const (
	// KindTransient covers timeouts, connection resets and provider rate
	// limits. Retried with backoff, then escalated to the fallback adapter.
	KindTransient Kind = "transient"
	// KindPermanent covers malformed or unsupported input for the stage.
	// Never retried.
	KindPermanent Kind = "permanent"
	// KindQuotaExceeded is distinct from Transient: it triggers queue-level
	// backpressure instead of per-call retries.
	KindQuotaExceeded Kind = "quota_exceeded"
)

// Error is a classified capability failure.
type Error struct {
	Kind    Kind
	Adapter string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure.
func NewTransient(adapter string, err error) *Error {
	return &Error{Kind: KindTransient, Adapter: adapter, Err: err}
}

// NewPermanent wraps err as a non-retryable failure.
func NewPermanent(adapter string, err error) *Error {
	return &Error{Kind: KindPermanent, Adapter: adapter, Err: err}
}

// NewQuotaExceeded wraps err as a provider quota exhaustion.
func NewQuotaExceeded(adapter string, err error) *Error {
	return &Error{Kind: KindQuotaExceeded, Adapter: adapter, Err: err}
}

// KindOf extracts the failure classification. Unclassified errors are treated
// as transient so that unknown provider hiccups still get the retry budget.
func KindOf(err error) Kind {
	var capErr *Error
	if errors.As(err, &capErr) {
		return capErr.Kind
	}

	return KindTransient
}

func IsTransient(err error) bool     { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool     { return KindOf(err) == KindPermanent }
func IsQuotaExceeded(err error) bool { return KindOf(err) == KindQuotaExceeded }
