package ai

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorTransport   ErrorKind = "transport"
)

// ProviderError is a failure reported by, or on the way to, a model provider.
// RetryAfter is the delay suggested by the provider, zero if none was given.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimited reports whether the provider asked the caller to slow down.
func (e *ProviderError) RateLimited() bool { return e.Kind == ErrorRateLimited }

var rateLimitMarkers = []string{
	"too many requests",
	"rate limit",
	"rate_limit",
	"quota",
	"resource_exhausted",
	"resource exhausted",
}

// IsRateLimitMessage reports whether a provider message signals rate limiting
// or an exhausted quota.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "429") {
		return true
	}
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyError turns any provider error into a *ProviderError. Errors that
// already are provider errors are returned unchanged.
func ClassifyError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewProviderError(0, err.Error(), "", err)
}

// NewProviderError builds a classified error from a status code, a message
// and an optional Retry-After header value.
func NewProviderError(status int, message string, retryAfterHeader string, cause error) *ProviderError {
	kind := ErrorTransport
	if status == http.StatusTooManyRequests || IsRateLimitMessage(message) {
		kind = ErrorRateLimited
	}

	var delay time.Duration
	if kind == ErrorRateLimited {
		if d, ok := ParseRetryAfterHeader(retryAfterHeader, time.Now()); ok {
			delay = d
		} else if d, ok := ParseRetryDelay(message); ok {
			delay = d
		}
	}

	return &ProviderError{
		Kind:       kind,
		StatusCode: status,
		Message:    message,
		RetryAfter: delay,
		Err:        cause,
	}
}

var retryDelayPatterns = []*regexp.Regexp{
	// retry_delay { seconds: 37 }
	regexp.MustCompile(`(?is)retry_delay.*?seconds:\s*(\d+(?:\.\d+)?)()`),
	// "retryDelay": "37s"
	regexp.MustCompile(`(?i)"?retryDelay"?\s*:\s*"(\d+(?:\.\d+)?)(s|ms)"`),
	// Please try again in 6.5s / retry after 20 seconds
	regexp.MustCompile(`(?i)(?:try again|retry) (?:in|after) (\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)\b`),
}

// ParseRetryDelay extracts a provider suggested retry delay from an error
// message. It understands the protobuf style retry_delay block, the JSON
// retryDelay field and plain "try again in Ns" sentences.
func ParseRetryDelay(msg string) (time.Duration, bool) {
	for _, re := range retryDelayPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		unit := time.Second
		if strings.EqualFold(m[2], "ms") {
			unit = time.Millisecond
		}
		return time.Duration(v * float64(unit)), true
	}
	return 0, false
}

// ParseRetryAfterHeader reads an HTTP Retry-After value given either in
// seconds or as an HTTP date.
func ParseRetryAfterHeader(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}
