// Package sources holds the contracts shared by the external data fetchers:
// a normalized failure taxonomy, a bounded retry policy, and HTTP helpers.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a fetch failure.
type Kind string

const (
	// KindTransport means no usable connection could be established.
	KindTransport Kind = "transport"
	// KindTimeout means the remote did not answer within the deadline.
	KindTimeout Kind = "timeout"
	// KindStatus means the remote answered with an unexpected status.
	KindStatus Kind = "status"
	// KindParse means the response did not match the expected shape.
	KindParse Kind = "parse"
	// KindNotFound means the remote reported that the record does not exist.
	KindNotFound Kind = "not_found"
	// KindRateLimited means the remote asked us to slow down.
	KindRateLimited Kind = "rate_limited"
)

// FetchError wraps source failures with a normalized kind.
type FetchError struct {
	Source  string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s [%s]: %s: %v", e.Source, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("source %s [%s]: %s", e.Source, e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request can succeed.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindRateLimited:
		return true
	case KindStatus:
		return e.Status >= 500
	}
	return false
}

// NewError builds a FetchError.
func NewError(source string, kind Kind, message string, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, Message: message, Err: err}
}

// StatusError builds a FetchError for an unexpected HTTP status.
func StatusError(source string, status int) *FetchError {
	kind := KindStatus
	switch {
	case status == 404:
		kind = KindNotFound
	case status == 429:
		kind = KindRateLimited
	}
	return &FetchError{Source: source, Kind: kind, Status: status, Message: fmt.Sprintf("unexpected status %d", status)}
}

// Classify converts a raw dial/transport error into a FetchError, keeping
// deadline expiry distinct from other connection failures.
func Classify(source, message string, err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(source, KindTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(source, KindTimeout, message, err)
	}
	return NewError(source, KindTransport, message, err)
}

// KindOf extracts the failure kind, or "" when err is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether err is a retryable FetchError.
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// IsTransport reports whether the request never reached the remote
// application (connection refused, DNS failure, timeout).
func IsTransport(err error) bool {
	k := KindOf(err)
	return k == KindTransport || k == KindTimeout
}
