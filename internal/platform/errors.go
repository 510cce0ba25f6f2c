package platform

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/alichu45/socialbot/internal/models"
)

// ErrorKind classifies an expected platform failure. Adapters translate
// HTTP responses into exactly one of these; anything else escaping an
// adapter is an adapter bug.
type ErrorKind string

const (
	// KindAuthRejected means the token was invalid or revoked. Terminal;
	// the owning account gets degraded.
	KindAuthRejected ErrorKind = "auth_rejected"
	// KindRateLimited means the platform asked us to back off. Retryable
	// after RetryAfter.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransientNetwork covers timeouts, 5xx and transport failures.
	KindTransientNetwork ErrorKind = "transient_network"
	// KindContentRejected means platform-side validation failed. Terminal.
	KindContentRejected ErrorKind = "content_rejected"
)

// Error is the uniform failure every adapter call returns for expected
// platform error responses.
type Error struct {
	Platform   models.Platform
	Kind       ErrorKind
	StatusCode int
	Message    string
	// RetryAfter is only meaningful for KindRateLimited.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Platform, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, e.Message)
}

func newError(p models.Platform, kind ErrorKind, status int, msg string) *Error {
	return &Error{Platform: p, Kind: kind, StatusCode: status, Message: msg}
}

// KindOf extracts the error kind, or "" for errors that did not come from
// an adapter.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether the scheduler/matcher may retry the call.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransientNetwork:
		return true
	}
	return false
}

// RetryAfterOf returns the platform-requested delay, or zero.
func RetryAfterOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) && pe.Kind == KindRateLimited {
		return pe.RetryAfter
	}
	return 0
}

func IsAuthRejected(err error) bool     { return KindOf(err) == KindAuthRejected }
func IsContentRejected(err error) bool  { return KindOf(err) == KindContentRejected }
func IsRateLimited(err error) bool      { return KindOf(err) == KindRateLimited }
func IsTransientNetwork(err error) bool { return KindOf(err) == KindTransientNetwork }

// classifyStatus maps an HTTP error response onto the taxonomy.
func classifyStatus(p models.Platform, resp *http.Response, body string) *Error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(p, KindAuthRejected, resp.StatusCode, body)
	case resp.StatusCode == http.StatusTooManyRequests:
		e := newError(p, KindRateLimited, resp.StatusCode, body)
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		return e
	case resp.StatusCode >= http.StatusInternalServerError:
		return newError(p, KindTransientNetwork, resp.StatusCode, body)
	default:
		// 400/422 and friends: the platform understood us and said no.
		return newError(p, KindContentRejected, resp.StatusCode, body)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
