package scoring

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited is returned for HTTP 429. It aborts the running batch.
	ErrRateLimited = errors.New("scoring: rate limited")
	// ErrQuotaExhausted is returned for HTTP 402. It aborts the running batch.
	ErrQuotaExhausted = errors.New("scoring: quota exhausted")
	// ErrMalformedResponse is returned when the model output does not match
	// the scoring contract.
	ErrMalformedResponse = errors.New("scoring: malformed response")
)

// StatusError is any other non-2xx answer from the endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("scoring: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("scoring: unexpected status %d: %s", e.Status, e.Body)
}

// BatchAbort reports whether err must stop the remaining batch.
func BatchAbort(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExhausted)
}
