package fetcher

import (
	"context"
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is.
var (
	ErrNetwork = errors.New("network error")
	ErrHTTP    = errors.New("http error")
	ErrParse   = errors.New("parse error")

	// ErrInvalidRequest reports a request that was never sent.
	ErrInvalidRequest = errors.New("invalid fetch request")
)

// Error describes a failed fetch.
type Error struct {
	Kind   error
	URL    string
	Status int
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == ErrHTTP:
		return fmt.Sprintf("GET %s: http status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("GET %s: %v: %v", e.URL, e.Kind, e.Err)
	default:
		return fmt.Sprintf("GET %s: %v", e.URL, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the failure kind sentinel.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind
}

// KindOf returns a short label for the failure kind of err, suitable for
// metrics and log fields.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, ErrHTTP):
		return "http"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "unknown"
	}
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == ErrHTTP {
		return fe.Status
	}
	return 0
}

func networkError(rawURL string, err error) error {
	return &Error{Kind: ErrNetwork, URL: rawURL, Err: err}
}

func parseError(rawURL string, err error) error {
	return &Error{Kind: ErrParse, URL: rawURL, Err: err}
}

func httpError(rawURL string, status int) error {
	return &Error{Kind: ErrHTTP, URL: rawURL, Status: status}
}
