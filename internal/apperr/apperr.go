// Package apperr defines the error taxonomy shared by the upstream clients,
// the session layer and the HTTP surface.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBadRequest is returned when a required input is missing or malformed.
	ErrBadRequest = errors.New("bad request")

	// ErrUpstreamTimeout is returned when an upstream service does not answer
	// within the configured bound.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamUnavailable is returned for non-2xx upstream responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamFormat is returned when a 2xx response lacks the expected fields.
	ErrUpstreamFormat = errors.New("upstream format error")

	// ErrNoActiveSession is returned when an operation needs an active video
	// reference and there is none.
	ErrNoActiveSession = errors.New("no active session")
)

// StatusError carries the status code of a non-2xx upstream response.
// Body is kept for server-side logging only.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// Timeout wraps err as an upstream timeout when the request context hit its
// deadline. Any other error is returned unchanged.
func Timeout(reqCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return err
}

// HTTPStatus maps an error from the taxonomy to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrUpstreamFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
