// Package remarkable is an HTTP client for the reMarkable cloud document
// storage API: device pairing, user-token refresh, service discovery, item
// listing, PDF upload and document-archive download.
//
// The client never retries. Every upstream failure is classified into a
// sentinel error and returned to the caller.
package remarkable

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification and domain failures.
// Use errors.Is(err, remarkable.ErrDocumentNotFound) to check.
var (
	ErrBadRequest         = errors.New("remarkable: bad request")
	ErrUnauthorized       = errors.New("remarkable: unauthorized")
	ErrForbidden          = errors.New("remarkable: forbidden")
	ErrNotFound           = errors.New("remarkable: not found")
	ErrServerError        = errors.New("remarkable: server error")
	ErrUnexpectedResponse = errors.New("remarkable: unexpected response")

	ErrInvalidPairingCode = errors.New("remarkable: pairing code rejected")
	ErrDocumentNotFound   = errors.New("remarkable: document not found")
	ErrDiscovery          = errors.New("remarkable: storage host discovery failed")
)

// APIError wraps a sentinel error with the HTTP status code and the response
// body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remarkable: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpectedResponse
	}
}
