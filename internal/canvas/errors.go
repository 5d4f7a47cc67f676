package canvas

import (
	"errors"
	"fmt"
)

var (
	// ErrAxisOutOfRange is returned when a coordinate lies outside the canvas (HTTP 422).
	ErrAxisOutOfRange = errors.New("canvas: axis out of range")
	// ErrServerUnavailable is returned for any 5xx response.
	ErrServerUnavailable = errors.New("canvas: server unavailable")
	// ErrUnauthorized is returned for a 401 the client could not recover from.
	ErrUnauthorized = errors.New("canvas: unauthorized")
	// ErrTransport is returned once network failures exhaust their retries.
	ErrTransport = errors.New("canvas: transport failure")
)

// APIError describes a failed call against the canvas API.
type APIError struct {
	Op     string
	Status int
	Detail string
	Err    error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: http %d", e.Op, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg + ": " + e.Err.Error()
}

func (e *APIError) Unwrap() error { return e.Err }
