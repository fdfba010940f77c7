package ai

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestParseRetryDelay(t *testing.T) {
	tests := []struct {
		name   string
		msg    string
		want   time.Duration
		wantOK bool
	}{
		{
			name:   "protobuf retry_delay block",
			msg:    "429 You exceeded your current quota. [violations { } , retry_delay {\n  seconds: 37\n}\n]",
			want:   37 * time.Second,
			wantOK: true,
		},
		{
			name:   "json retryDelay",
			msg:    `{"error":{"code":429,"details":[{"retryDelay":"12s"}]}}`,
			want:   12 * time.Second,
			wantOK: true,
		},
		{
			name:   "try again sentence",
			msg:    "Rate limit reached for gpt-4o-mini. Please try again in 6.5s.",
			want:   6500 * time.Millisecond,
			wantOK: true,
		},
		{
			name:   "milliseconds",
			msg:    "Please try again in 250ms",
			want:   250 * time.Millisecond,
			wantOK: true,
		},
		{
			name:   "no hint",
			msg:    "429 Too Many Requests",
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParseRetryDelay(tc.msg)
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("ParseRetryDelay() = (%v, %v), want (%v, %v)", got, ok, tc.want, tc.wantOK)
			}
		})
	}
}

func TestParseRetryAfterHeader(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if d, ok := ParseRetryAfterHeader("30", now); !ok || d != 30*time.Second {
		t.Fatalf("seconds header = (%v, %v)", d, ok)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if d, ok := ParseRetryAfterHeader(date, now); !ok || d != 90*time.Second {
		t.Fatalf("date header = (%v, %v)", d, ok)
	}
	if _, ok := ParseRetryAfterHeader("", now); ok {
		t.Fatal("empty header should not parse")
	}
	if _, ok := ParseRetryAfterHeader("later", now); ok {
		t.Fatal("garbage header should not parse")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantKind  ErrorKind
		wantDelay time.Duration
	}{
		{
			name:     "quota message",
			err:      errors.New("Resource has been exhausted (e.g. check quota)."),
			wantKind: ErrorRateLimited,
		},
		{
			name:      "429 with delay",
			err:       errors.New("googleapi: Error 429: retry_delay { seconds: 20 }"),
			wantKind:  ErrorRateLimited,
			wantDelay: 20 * time.Second,
		},
		{
			name:     "connection reset",
			err:      errors.New("read tcp: connection reset by peer"),
			wantKind: ErrorTransport,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pe := ClassifyError(tc.err)
			if pe.Kind != tc.wantKind {
				t.Fatalf("kind = %s, want %s", pe.Kind, tc.wantKind)
			}
			if pe.RetryAfter != tc.wantDelay {
				t.Fatalf("retry after = %v, want %v", pe.RetryAfter, tc.wantDelay)
			}
			if !errors.Is(pe, tc.err) {
				t.Fatal("classified error should wrap the cause")
			}
		})
	}
}

func TestClassifyError_KeepsProviderError(t *testing.T) {
	orig := NewProviderError(http.StatusTooManyRequests, "slow down", "7", nil)
	wrapped := fmt.Errorf("chat: %w", orig)
	if got := ClassifyError(wrapped); got != orig {
		t.Fatalf("expected the original provider error, got %+v", got)
	}
	if !orig.RateLimited() || orig.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected provider error %+v", orig)
	}
	if ClassifyError(nil) != nil {
		t.Fatal("nil error should stay nil")
	}
}
