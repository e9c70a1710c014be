package dataset

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies request failures so the HTTP boundary can map them to a
// stable status code.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindInvalidFeature
	KindInvalidObservation
	KindReadError
	KindNotFound
	KindFetchError
)

// Error is a classified failure. The message is safe to surface to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code for the error's kind.
func (e *Error) Status() int {
	switch e.Kind {
	case KindBadRequest, KindInvalidFeature, KindInvalidObservation, KindReadError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindFetchError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	var wrapped error
	msg := fmt.Sprintf(format, args...)
	if n := len(args); n > 0 {
		if err, ok := args[n-1].(error); ok {
			wrapped = err
		}
	}
	return &Error{Kind: kind, Message: msg, Err: wrapped}
}

// BadRequest reports malformed or missing request parameters.
func BadRequest(format string, args ...interface{}) *Error {
	return newError(KindBadRequest, format, args...)
}

// InvalidFeature reports a marker reference that does not resolve against
// the feature axis.
func InvalidFeature(format string, args ...interface{}) *Error {
	return newError(KindInvalidFeature, format, args...)
}

// InvalidObservation reports a missing or undecodable obs column.
func InvalidObservation(format string, args ...interface{}) *Error {
	return newError(KindInvalidObservation, format, args...)
}

// ReadError reports malformed data returned by the backing store.
func ReadError(format string, args ...interface{}) *Error {
	return newError(KindReadError, format, args...)
}

// NotFound reports a named resource absent from the dataset.
func NotFound(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// FetchError reports a failed call to an external collaborator.
func FetchError(format string, args ...interface{}) *Error {
	return newError(KindFetchError, format, args...)
}

// InternalError reports an unclassified failure.
func InternalError(format string, args ...interface{}) *Error {
	return newError(KindInternal, format, args...)
}

// IsKind reports whether err is a classified error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// StatusCode returns the HTTP status for any error, defaulting to 500 for
// unclassified errors.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the client-safe message for any error. Unclassified
// errors collapse to a generic message so internals never leak.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
