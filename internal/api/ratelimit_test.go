package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace/internal/constants"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   int
	}{
		{name: "zero", window: 0, want: 1},
		{name: "negative", window: -time.Second, want: 1},
		{name: "fractional_rounds_up", window: 1500 * time.Millisecond, want: 2},
		{name: "whole_second", window: time.Second, want: 1},
		{name: "minute", window: time.Minute, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterSeconds(tt.window); got != tt.want {
				t.Fatalf("retryAfterSeconds(%s) = %d, want %d", tt.window, got, tt.want)
			}
		})
	}
}

func TestRateLimitKeysOnResolvedClientIP(t *testing.T) {
	resolver, err := NewClientIPResolver([]string{"10.0.0.1"})
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}
	handler := rateLimit(1, time.Minute, resolver)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(forwardedFor string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("198.51.100.1"); rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr := send("198.51.100.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want %q", got, "60")
	}
	resp := decodeBody[ErrorResponse](t, rr)
	if resp.Error.Code != constants.ErrCodeRateLimited {
		t.Fatalf("error.code = %q, want %q", resp.Error.Code, constants.ErrCodeRateLimited)
	}

	if rr := send("198.51.100.2"); rr.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want %d", rr.Code, http.StatusOK)
	}
}
