package resilience

import (
	"math"
	"time"
)

// Class is the failure category that selects a retry policy.
type Class string

const (
	ClassNetwork        Class = "network"
	ClassRateLimit      Class = "rate_limit"
	ClassAuthentication Class = "authentication"
	ClassValidation     Class = "validation"
	ClassServerError    Class = "server_error"
	ClassTimeout        Class = "timeout"
	ClassQuotaExceeded  Class = "quota_exceeded"
	ClassUnknown        Class = "unknown"
)

// String implements fmt.Stringer.
func (c Class) String() string {
	return string(c)
}

// Retryable reports whether a failure of this class may be attempted again.
// Authentication and validation failures never are, whatever the policy says.
func (c Class) Retryable() bool {
	return c != ClassAuthentication && c != ClassValidation
}

// Policy controls how many attempts a class gets and how long to wait
// between them.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
}

const jitterFraction = 0.25

// DefaultPolicies returns a fresh copy of the per-class retry table.
func DefaultPolicies() map[Class]Policy {
	return map[Class]Policy{
		ClassNetwork:        {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true},
		ClassRateLimit:      {MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, Jitter: true},
		ClassAuthentication: {MaxAttempts: 1},
		ClassValidation:     {MaxAttempts: 1},
		ClassServerError:    {MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 15 * time.Second, Multiplier: 2, Jitter: true},
		ClassTimeout:        {MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second, Multiplier: 1.5, Jitter: true},
		ClassQuotaExceeded:  {MaxAttempts: 2, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, Jitter: true},
		ClassUnknown:        {MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2, Jitter: true},
	}
}

// Attempts returns the effective attempt budget for class under this policy.
func (p Policy) Attempts(class Class) int {
	if !class.Retryable() || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before the attempt following attempt n (1-based):
// min(base * multiplier^(n-1), max), then scaled by up to ±25% when jitter is
// enabled. random must return values in [0, 1).
func (p Policy) Delay(attempt int, random func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter && random != nil {
		delay *= 1 + (random()*2-1)*jitterFraction
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
