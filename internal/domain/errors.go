package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// FetchError describes a failed page or API request.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// NewStatusError classifies a non-2xx response. 5xx and 429 are transient.
func NewStatusError(url string, status int) *FetchError {
	return &FetchError{
		URL:        url,
		StatusCode: status,
		Transient:  status >= 500 || status == http.StatusTooManyRequests,
	}
}

// ParseError means the expected markup was absent from a page. It is permanent
// for that input: retrying the same document cannot succeed.
type ParseError struct {
	URL           string
	Reason        string
	LayoutVersion string
}

func (e *ParseError) Error() string {
	if e.LayoutVersion != "" {
		return fmt.Sprintf("parse %s: %s (layout %s)", e.URL, e.Reason, e.LayoutVersion)
	}
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// StorageError wraps a failed store operation.
type StorageError struct {
	Op  string
	URL string
	Err error
}

func (e *StorageError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying. Anything that is not a
// permanent FetchError or a ParseError is treated as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	var pe *ParseError
	return !errors.As(err, &pe)
}
