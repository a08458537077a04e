package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for the failure classes the conversion pipeline produces.
// Wrap tags errors with one of these so callers can classify failures with
// errors.Is without parsing messages.
var (
	// ErrValidation marks bad submission input (unsupported format, quality
	// out of range, empty batch, batch over cap). Reported synchronously;
	// the task never enters the queue.
	ErrValidation = errors.New("validation error")
	// ErrConversion marks a decode/encode failure for a given file. Retried
	// per queue policy before surfacing as a terminal error event.
	ErrConversion = errors.New("conversion error")
	// ErrWorkerTransport marks the execution context itself dying or failing
	// to start. The worker is replaced and the in-flight task retried as a
	// conversion failure.
	ErrWorkerTransport = errors.New("worker transport error")
	// ErrResourceExhausted marks a task that could not be admitted within the
	// bounded memory wait. Terminal; retrying cannot help without external
	// intervention.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrIllegalState marks API misuse, such as mutating a destroyed queue.
	ErrIllegalState = errors.New("illegal state")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrConversion
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorKind is the classification string recorded in logs and journal rows.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindConversion        ErrorKind = "conversion"
	KindWorkerTransport   ErrorKind = "worker_transport"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindIllegalState      ErrorKind = "illegal_state"
	KindUnknown           ErrorKind = "unknown"
)

// Classify maps an error chain to its kind marker.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrWorkerTransport):
		return KindWorkerTransport
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrIllegalState):
		return KindIllegalState
	case errors.Is(err, ErrConversion):
		return KindConversion
	default:
		return KindUnknown
	}
}

// Retryable reports whether the queue's retry policy applies to the failure.
// Conversion and transport failures are retried; exhausted admission is
// terminal by definition and validation never reaches a worker.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindConversion, KindWorkerTransport:
		return true
	default:
		return false
	}
}

// ErrorDetails carries the decomposed view of a wrapped error for structured
// logging and journaling.
type ErrorDetails struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Details decomposes a wrapped error. The message is the full chain text with
// the marker prefix stripped, which reads better in user-facing surfaces.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	kind := Classify(err)
	msg := err.Error()
	for _, marker := range []error{ErrValidation, ErrConversion, ErrWorkerTransport, ErrResourceExhausted, ErrIllegalState} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			msg = strings.TrimPrefix(msg, prefix)
			break
		}
	}
	return ErrorDetails{Kind: kind, Message: msg, Cause: errors.Unwrap(err)}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
