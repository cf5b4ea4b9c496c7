package client

import "time"

// ReconnectPolicy decides how long to wait before each reconnect attempt.
type ReconnectPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	// MaxAttempts bounds the attempts per outage; zero or less means no bound.
	MaxAttempts int
	// ImmediateFirst makes the first attempt go out without waiting.
	ImmediateFirst bool
}

// DefaultReconnectPolicy waits 0s, 2s, 10s, then 30s between attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:      2 * time.Second,
		Multiplier:     5,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    6,
		ImmediateFirst: true,
	}
}

// Delay returns the wait before attempt (1-based), and false once the policy
// is exhausted.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || (p.MaxAttempts > 0 && attempt > p.MaxAttempts) {
		return 0, false
	}
	step := attempt - 1
	if p.ImmediateFirst {
		if attempt == 1 {
			return 0, true
		}
		step = attempt - 2
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay)
	for i := 0; i < step; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay, true
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay, true
	}
	return time.Duration(d), true
}
