package meeting

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Handlers map kinds to HTTP status codes
// and the retry layer uses them to decide whether another attempt can help.
type Kind string

const (
	// KindBadInput marks malformed requests: zero or multiple input kinds,
	// empty uploads, unparseable form fields.
	KindBadInput Kind = "BAD_INPUT"

	// KindUnsupportedFormat marks unknown file extensions or audio the
	// selected provider cannot accept (e.g. local bytes with a URL-only ASR).
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT"

	// KindDurationExceeded marks audio longer than the configured cap.
	KindDurationExceeded Kind = "DURATION_EXCEEDED"

	// KindUpstreamTimeout marks a provider call that timed out. Retryable.
	KindUpstreamTimeout Kind = "UPSTREAM_TIMEOUT"

	// KindUpstreamUnavailable marks 5xx-class provider failures. Retryable.
	KindUpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"

	// KindRateLimited marks 429-class provider responses. Retryable.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindUpstreamAuth marks authentication or authorisation failures at a
	// provider. Never retried.
	KindUpstreamAuth Kind = "UPSTREAM_AUTH"

	// KindContextLength marks an LLM prompt that exceeds the model's window.
	KindContextLength Kind = "CONTEXT_LENGTH"

	// KindVectorDimMismatch marks an embedding dimension that disagrees with
	// the target collection. The archive aborts with no partial writes.
	KindVectorDimMismatch Kind = "VECTOR_DIM_MISMATCH"

	// KindCancelled marks request-level cancellation.
	KindCancelled Kind = "CANCELLED"

	// KindDeadlineExceeded marks soft-deadline expiry.
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"

	// KindInternal marks unexpected failures.
	KindInternal Kind = "INTERNAL"
)

// Retryable reports whether another attempt against the same provider can
// plausibly succeed.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstreamTimeout, KindUpstreamUnavailable, KindRateLimited:
		return true
	}
	return false
}

// Fault is a classified pipeline error. It wraps the underlying cause so
// errors.Is and errors.As keep working through the classification layer.
type Fault struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (f *Fault) Error() string {
	switch {
	case f.Msg != "" && f.Err != nil:
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Msg, f.Err)
	case f.Msg != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Msg)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	default:
		return string(f.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (f *Fault) Unwrap() error { return f.Err }

// Faultf builds a Fault with a formatted message. If the format args contain
// a %w verb the wrapped error is preserved for errors.Is/As.
func Faultf(kind Kind, format string, args ...any) *Fault {
	err := fmt.Errorf(format, args...)
	return &Fault{Kind: kind, Msg: err.Error(), Err: errors.Unwrap(err)}
}

// Wrap classifies err under kind, preserving it as the cause.
// Returns nil when err is nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Kind: kind, Err: err}
}

// KindOf extracts the classification from err. Context errors map to
// KindCancelled / KindDeadlineExceeded; everything unclassified is
// KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindDeadlineExceeded
	}
	return KindInternal
}

// IsRetryable reports whether err's kind is transient.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
