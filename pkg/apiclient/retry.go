package apiclient

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// MaxRetries bounds retries per logical request (4 attempts in total).
	MaxRetries = 3

	baseRetryDelay = time.Second
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// IsPublicPath reports whether path is reachable without a session.
// A 403 on these paths may be transient and is retried.
func IsPublicPath(path string) bool {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "/api/book/discover" || strings.HasPrefix(path, "/api/auth/") {
		return true
	}
	rest, ok := strings.CutPrefix(path, "/api/book/")
	if !ok {
		return false
	}
	id, tail, ok := strings.Cut(rest, "/")
	return ok && id != "" && tail == "cover"
}

// ShouldRetry decides whether retry number attempt (1-based) may follow err.
func ShouldRetry(attempt int, err error) bool {
	if attempt < 1 || attempt > MaxRetries {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 0 {
		// no response at all; a probe rejection carries no transport error
		return (apiErr.Kind == KindNoConnection || apiErr.Kind == KindTimeout) && apiErr.Err != nil
	}
	switch apiErr.Status {
	case http.StatusUnauthorized:
		return false
	case http.StatusForbidden:
		return IsPublicPath(apiErr.Path)
	}
	return retryableStatus[apiErr.Status]
}

// BackoffDelay is the wait before retry number attempt: 1s, 2s, 4s.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return baseRetryDelay << (attempt - 1)
}

// descriptorBackOff feeds BackoffDelay into the backoff loop using the
// descriptor's retry counter, which the operation advances.
type descriptorBackOff struct {
	desc *requestDescriptor
}

func (b *descriptorBackOff) NextBackOff() time.Duration {
	if b.desc.retries < 1 || b.desc.retries > MaxRetries {
		return backoff.Stop
	}
	return BackoffDelay(b.desc.retries)
}

func (b *descriptorBackOff) Reset() {}
