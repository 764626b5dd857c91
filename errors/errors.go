// Package errors provides standardized error handling for WinM components.
// Errors are classified into a small taxonomy that the transport layer maps
// to HTTP status codes and that consumers use for ack/term decisions, so no
// component depends on a specific transport's error types.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindValidation marks malformed or empty input. Never retried.
	KindValidation Kind = iota
	// KindConflict marks a uniqueness violation. Never retried.
	KindConflict
	// KindNotFound marks an unknown id on a read path.
	KindNotFound
	// KindUpstream marks a language-model or graph-store call failure.
	// Surfaced as an error result, not retried automatically.
	KindUpstream
	// KindTransport marks queue connection loss. Retried indefinitely at a
	// fixed interval, invisible to callers.
	KindTransport
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	ErrEmptyName       = errors.New("name cannot be empty after trimming")
	ErrNothingToUpdate = errors.New("at least one field must be provided")
	ErrNameTaken       = errors.New("name already exists")
	ErrNotFound        = errors.New("not found")
	ErrNoConnection    = errors.New("no connection available")
	ErrConnectionLost  = errors.New("connection lost")
)

// ClassifiedError wraps an error with its classification and the
// component/operation where it originated.
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Err != nil {
		return ce.Err.Error()
	}
	return ce.Kind.String() + " error"
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// is reports whether err carries the given kind.
func is(err error, kind Kind) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// IsValidation checks if an error is a validation failure.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsConflict checks if an error is a uniqueness conflict.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsNotFound checks if an error is a missing-resource error.
func IsNotFound(err error) bool {
	return is(err, KindNotFound) || errors.Is(err, ErrNotFound)
}

// IsUpstream checks if an error came from a backing service call.
func IsUpstream(err error) bool { return is(err, KindUpstream) }

// IsTransport checks if an error is a connection-level failure that the
// consumer loop should retry.
func IsTransport(err error) bool {
	return is(err, KindTransport) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrConnectionLost)
}

// newClassified creates a new classified error.
// Internal helper - use the per-kind constructors instead.
func newClassified(kind Kind, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// wrapKind wraps err with context and the given kind. A nil err still
// produces a classified error so callers can signal conditions (empty name,
// name taken) without a pre-existing cause.
func wrapKind(kind Kind, err error, component, method, message string) error {
	if err == nil {
		err = errors.New(message)
	}
	wrapped := fmt.Errorf("%s.%s: %s: %w", component, method, message, err)
	return newClassified(kind, wrapped, component, method, wrapped.Error())
}

// Validation wraps an error as a validation failure with context.
func Validation(err error, component, method, message string) error {
	return wrapKind(KindValidation, err, component, method, message)
}

// Conflict wraps an error as a uniqueness conflict with context.
func Conflict(err error, component, method, message string) error {
	return wrapKind(KindConflict, err, component, method, message)
}

// NotFound wraps an error as a missing-resource error with context.
func NotFound(err error, component, method, message string) error {
	return wrapKind(KindNotFound, err, component, method, message)
}

// Upstream wraps an error as a backing-service failure with context.
func Upstream(err error, component, method, message string) error {
	return wrapKind(KindUpstream, err, component, method, message)
}

// Transport wraps an error as a connection-level failure with context.
func Transport(err error, component, method, message string) error {
	return wrapKind(KindTransport, err, component, method, message)
}

// UserMessage returns the message safe to surface to API clients. For
// validation, conflict and not-found errors that is the originating
// condition; everything else collapses to a generic message so internal
// details are not exposed.
func UserMessage(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		switch ce.Kind {
		case KindValidation, KindConflict, KindNotFound:
			if ce.Err != nil {
				if inner := errors.Unwrap(ce.Err); inner != nil {
					return inner.Error()
				}
			}
			return ce.Error()
		case KindUpstream:
			return "upstream service error"
		case KindTransport:
			return "service temporarily unavailable"
		}
	}
	return "internal server error"
}
