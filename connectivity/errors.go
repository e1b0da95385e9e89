package connectivity

import "fmt"

// ErrServiceNotFound is returned when Call targets an unregistered service.
type ErrServiceNotFound struct {
	Service string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("connectivity: service not routable: %s", e.Service)
}

// ErrBadPayload is returned by handlers that cannot decode their input.
type ErrBadPayload struct {
	Service string
	Cause   error
}

func (e *ErrBadPayload) Error() string {
	return fmt.Sprintf("connectivity: bad payload for %s: %v", e.Service, e.Cause)
}

func (e *ErrBadPayload) Unwrap() error { return e.Cause }

// ErrPanic wraps a recovered panic value.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}
