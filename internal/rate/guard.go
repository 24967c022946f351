package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

// Guard enforces a provider budget. It never retries or queues: a call
// over budget fails immediately with RateLimitError.
type Guard struct {
	decl    Declaration
	limiter *xrate.Limiter

	mu         sync.Mutex
	cooldown   time.Time
	lastStatus int
}

// NewGuard builds a guard for decl. A declaration without limits only
// honours provider cooldowns.
func NewGuard(decl Declaration) *Guard {
	g := &Guard{decl: decl}
	if decl.HasLimits() {
		every := time.Minute / time.Duration(decl.PerMinute())
		g.limiter = xrate.NewLimiter(xrate.Every(every), decl.BurstSize())
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).Wrap(base)
}

// Wrap returns a copy of base whose transport consults the guard.
func (g *Guard) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall(time.Now())
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token when the call is allowed.
func (g *Guard) ShouldCall(now time.Time) Decision {
	g.mu.Lock()
	cooldown := g.cooldown
	g.mu.Unlock()

	if !cooldown.IsZero() && now.Before(cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: cooldown}
	}
	if g.limiter == nil {
		return Decision{Allowed: true}
	}

	reservation := g.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, Reason: "budget"}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, Reason: "budget", RetryAt: now.Add(delay)}
	}
	return Decision{Allowed: true}
}

// RecordResponse starts a cooldown when the provider asks callers to back off.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	provider := g.decl.ProviderName()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastStatus = status

	if status != http.StatusTooManyRequests && status != http.StatusServiceUnavailable {
		return
	}
	now := time.Now()
	wait, ok := retryAfter(headers.Get("Retry-After"), now)
	if !ok {
		return
	}
	g.cooldown = now.Add(wait)
	retryAfterGauge.WithLabelValues(provider).Set(wait.Seconds())
}

// LastStatus returns the most recent upstream status code.
func (g *Guard) LastStatus() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastStatus
}

// retryAfter accepts both delay-seconds and HTTP-date forms.
func retryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(value)
	if err != nil || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}
