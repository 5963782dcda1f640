package venue

import (
	"errors"
	"fmt"
)

// Kind classifies a venue failure for the retry policy.
type Kind int

const (
	// KindRetryable covers transient failures: network errors, timeouts,
	// rate limits, 5xx responses.
	KindRetryable Kind = iota
	// KindTerminal covers failures retrying cannot fix: rejected orders,
	// insufficient margin, unknown symbols.
	KindTerminal
)

func (k Kind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "retryable"
}

// Error wraps a venue failure with its classification.
type Error struct {
	Venue string
	Op    string
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Venue, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable wraps err as a transient venue failure.
func Retryable(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Venue: venue, Op: op, Kind: KindRetryable, Err: err}
}

// Terminal wraps err as a permanent venue failure.
func Terminal(venue, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Venue: venue, Op: op, Kind: KindTerminal, Err: err}
}

// IsRetryable reports whether err should be retried. Unclassified errors
// are treated as retryable, matching the remote-call default.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind == KindRetryable
	}
	return true
}

// IsTerminal reports whether err is classified as permanent.
func IsTerminal(err error) bool {
	var ve *Error
	return errors.As(err, &ve) && ve.Kind == KindTerminal
}
