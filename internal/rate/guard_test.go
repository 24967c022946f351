package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuardBlocksWhenBudgetExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := WrapHTTP(Provider("kidde").MaxRequestsPerMinute(2), server.Client())

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
	}

	_, err := client.Get(server.URL)
	var rateErr RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.Reason != "budget" || rateErr.RetryAt.IsZero() {
		t.Fatalf("unexpected rate error: %+v", rateErr)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected blocked call to skip upstream, hits=%d", hits.Load())
	}
}

func TestGuardWithoutLimitsAllowsCalls(t *testing.T) {
	guard := NewGuard(Provider("kidde"))
	now := time.Now()
	for i := 0; i < 100; i++ {
		if d := guard.ShouldCall(now); !d.Allowed {
			t.Fatalf("call %d blocked: %+v", i, d)
		}
	}
}

func TestGuardCooldownFromRetryAfter(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	guard := NewGuard(Provider("kidde"))
	client := guard.Wrap(server.Client())

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	resp.Body.Close()
	if guard.LastStatus() != http.StatusTooManyRequests {
		t.Fatalf("unexpected last status %d", guard.LastStatus())
	}

	_, err = client.Get(server.URL)
	var rateErr RateLimitError
	if !errors.As(err, &rateErr) || rateErr.Reason != "cooldown" {
		t.Fatalf("expected cooldown error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", hits.Load())
	}
}

func TestRetryAfterParsing(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if d, ok := retryAfter("30", now); !ok || d != 30*time.Second {
		t.Fatalf("seconds form: %v %v", d, ok)
	}
	date := now.Add(time.Minute).Format(http.TimeFormat)
	if d, ok := retryAfter(date, now); !ok || d != time.Minute {
		t.Fatalf("date form: %v %v", d, ok)
	}
	if _, ok := retryAfter("", now); ok {
		t.Fatalf("expected empty header to be ignored")
	}
	if _, ok := retryAfter("soon", now); ok {
		t.Fatalf("expected garbage header to be ignored")
	}
}
