package analytics

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned before any computation when a query is malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream wraps failures of the event store or membership source.
	ErrUpstream = errors.New("upstream failure")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// upstream classifies err for op. Cancellation of ctx is reported as the context error so
// callers can tell it apart from a data-source failure.
func upstream(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUpstream) {
		return err
	}
	// Drivers report an expired context with their own error, e.g. lib/pq's
	// "canceling statement due to user request", so ctx decides first.
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.Canceled):
		return fmt.Errorf("%s: %w", op, ctxErr)
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return fmt.Errorf("%s timed out: %w: %w: %w", op, ErrUpstream, ctxErr, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w: %w", op, ErrUpstream, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}

// IsCancelled reports whether err is a cancellation outcome.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// errorKind labels err for metrics and logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case IsCancelled(err):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}
