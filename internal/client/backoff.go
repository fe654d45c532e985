package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// linearBackOff waits base, 2*base, 3*base, ... between attempts.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// retryPolicy caps linearBackOff at maxAttempts. NextBackOff returns
// backoff.Stop once the attempts are used up.
type retryPolicy struct {
	linear *linearBackOff
	capped backoff.BackOff
	max    int
}

func newRetryPolicy(base time.Duration, maxAttempts int) *retryPolicy {
	linear := &linearBackOff{base: base}
	return &retryPolicy{
		linear: linear,
		capped: backoff.WithMaxRetries(linear, uint64(maxAttempts)),
		max:    maxAttempts,
	}
}

func (p *retryPolicy) next() (attempt int, delay time.Duration, ok bool) {
	delay = p.capped.NextBackOff()
	if delay == backoff.Stop {
		return p.linear.attempt, 0, false
	}
	return p.linear.attempt, delay, true
}

func (p *retryPolicy) reset() {
	p.capped.Reset()
}

func (p *retryPolicy) attempt() int {
	return p.linear.attempt
}
