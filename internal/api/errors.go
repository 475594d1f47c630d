package api

import (
	"errors"
	"fmt"
)

var (
	ErrAuth               = errors.New("authentication rejected")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrNotFound           = errors.New("resource not found")
)

// RequestError wraps a failed API round trip with enough detail to classify it.
type RequestError struct {
	Op         string
	StatusCode int // 0 when the request never produced a response
	Cause      error
}

func (e *RequestError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// IsServerError reports whether err is a 5xx response from the service.
func IsServerError(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode >= 500
}

// IsNetworkError reports whether err is a transport-level failure that never
// produced an HTTP response.
func IsNetworkError(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == 0
}

// IsTransient reports whether err is worth a local retry.
func IsTransient(err error) bool {
	return IsServerError(err) || IsNetworkError(err)
}
