package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Fatal run errors. Anything else a child index produces is isolated.
var (
	ErrRootFetch      = errors.New("root index unreachable")
	ErrEmptyRoot      = errors.New("root index has no usable entries")
	ErrNoChildIndices = errors.New("root index lists no matching child indices")
	ErrInvalidLocator = errors.New("invalid locator")
)

// FetchErrorKind classifies a failed retrieval.
type FetchErrorKind string

// Supported fetch failure kinds.
const (
	KindTimeout    FetchErrorKind = "timeout"
	KindHTTPStatus FetchErrorKind = "http_status"
	KindNetwork    FetchErrorKind = "network"
	KindBlocked    FetchErrorKind = "robots_blocked"
)

// FetchError is returned by Fetcher implementations.
type FetchError struct {
	Kind       FetchErrorKind
	Locator    string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d %s", e.Locator, e.StatusCode, http.StatusText(e.StatusCode))
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timed out", e.Locator)
	case KindBlocked:
		return fmt.Sprintf("fetch %s: disallowed by robots.txt", e.Locator)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Locator, e.Err)
	}
}

// Unwrap exposes the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline expiry.
func (e *FetchError) Timeout() bool {
	return e.Kind == KindTimeout
}

// ClassifyTransportError maps a transport-level error to a FetchError. Deadline
// expiry (from the context or the client timeout) becomes KindTimeout; every
// other failure becomes KindNetwork.
func ClassifyTransportError(locator string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: KindTimeout, Locator: locator, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: KindTimeout, Locator: locator, Err: err}
	}
	return &FetchError{Kind: KindNetwork, Locator: locator, Err: err}
}
