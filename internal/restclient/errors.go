package restclient

import (
	"errors"
	"fmt"

	"github.com/yairfalse/saasmeter/pkg/schema"
)

// Status classification errors.
var (
	ErrEmptyPath     = errors.New("empty request path")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnknownStatus = errors.New("unknown status")
	ErrTransport     = errors.New("transport error")
)

// StatusError is returned for any status code without a dedicated classification.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Is makes errors.Is(err, ErrUnknownStatus) hold.
func (e *StatusError) Is(target error) bool { return target == ErrUnknownStatus }

// TransportError wraps DNS, TLS, connection and timeout failures.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrTransport) hold.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ErrorKind is the coarse classification used in logs and self metrics.
type ErrorKind string

// Error kinds.
const (
	KindNone          ErrorKind = ""
	KindNotFound      ErrorKind = "not_found"
	KindForbidden     ErrorKind = "forbidden"
	KindUnauthorized  ErrorKind = "unauthorized"
	KindUnknownStatus ErrorKind = "unknown_status"
	KindTransport     ErrorKind = "transport"
	KindMalformed     ErrorKind = "malformed"
	KindOther         ErrorKind = "other"
)

// Kind classifies err, including decode failures from pkg/schema.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrUnknownStatus):
		return KindUnknownStatus
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, schema.ErrMalformed):
		return KindMalformed
	default:
		return KindOther
	}
}
