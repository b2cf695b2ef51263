package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
)

// ErrIncompatibleServer is returned when the server announces a different major version.
var ErrIncompatibleServer = errors.New("incompatible cache admin server version")

// APIError is a non-2xx answer of the admin API
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cache admin request failed: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("cache admin request failed: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Is maps HTTP statuses onto the application error taxonomy, so callers can use
// errors.Is(err, &apperrors.ErrNotFound{}) regardless of transport.
func (e *APIError) Is(target error) bool {
	switch target.(type) {
	case *apperrors.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case *apperrors.ErrInvalidConfiguration:
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// transientError marks failures worth retrying: transport errors and gateway statuses.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }

func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}
