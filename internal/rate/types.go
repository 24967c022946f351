package rate

import "time"

// Declaration defines a provider's request budget.
type Declaration struct {
	provider  string
	perMinute int
	burst     int
}

// Provider creates a new declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

// MaxRequestsPerMinute sets the sustained budget. Zero or less disables the bucket.
func (d Declaration) MaxRequestsPerMinute(limit int) Declaration {
	d.perMinute = limit
	return d
}

// Burst caps how many requests may go out back to back. Defaults to the
// per-minute budget.
func (d Declaration) Burst(n int) Declaration {
	d.burst = n
	return d
}

func (d Declaration) PerMinute() int {
	return d.perMinute
}

func (d Declaration) BurstSize() int {
	if d.burst > 0 {
		return d.burst
	}
	return d.perMinute
}

func (d Declaration) HasLimits() bool {
	return d.perMinute > 0
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}
