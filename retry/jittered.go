/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default values for JitteredExponentialBackoffPolicy.
const (
	DefaultMaxAttempts  = 6
	DefaultBaseInterval = time.Second
	DefaultJitterFactor = 0.1
)

// JitteredExponentialBackoffPolicy doubles the delay on every retry and adds a random jitter on top of it.
// The n-th retry (n starts from 0) waits BaseInterval*2^n + U[0, JitterFactor*BaseInterval*2^n).
type JitteredExponentialBackoffPolicy struct {
	// BaseInterval is a delay before the first retry. Default is DefaultBaseInterval.
	BaseInterval time.Duration

	// MaxAttempts is a total number of attempts including the initial one. Default is DefaultMaxAttempts.
	MaxAttempts int

	// JitterFactor is an upper bound of the jitter relative to the computed delay.
	// Default is DefaultJitterFactor, negative value disables jitter.
	JitterFactor float64

	// MaxInterval caps the computed delay (without jitter). Zero means no cap.
	MaxInterval time.Duration

	// Rand returns a pseudo-random number in [0.0, 1.0). Default is math/rand.Float64.
	Rand func() float64
}

// NewJitteredExponentialBackoffPolicy returns a policy with the given base interval and total attempts count.
func NewJitteredExponentialBackoffPolicy(baseInterval time.Duration, maxAttempts int) JitteredExponentialBackoffPolicy {
	return JitteredExponentialBackoffPolicy{BaseInterval: baseInterval, MaxAttempts: maxAttempts}
}

// Attempts returns the effective total number of attempts.
func (p JitteredExponentialBackoffPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// Delay returns the delay (without jitter) before the retry with the given zero-based number.
func (p JitteredExponentialBackoffPolicy) Delay(retryNum int) time.Duration {
	base := p.BaseInterval
	if base <= 0 {
		base = DefaultBaseInterval
	}
	d := base
	for i := 0; i < retryNum; i++ {
		if p.MaxInterval > 0 && d >= p.MaxInterval {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		d = p.MaxInterval
	}
	return d
}

// NewBackOff implements retry.Policy.
func (p JitteredExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	jf := p.JitterFactor
	if jf == 0 {
		jf = DefaultJitterFactor
	} else if jf < 0 {
		jf = 0
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64 // nolint: gosec // jitter does not need a cryptographic source
	}
	return &jitteredBackOff{policy: p, maxRetries: p.Attempts() - 1, jitterFactor: jf, rand: rnd}
}

type jitteredBackOff struct {
	policy       JitteredExponentialBackoffPolicy
	maxRetries   int
	jitterFactor float64
	rand         func() float64
	retryNum     int
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	if b.retryNum >= b.maxRetries {
		return backoff.Stop
	}
	d := b.policy.Delay(b.retryNum)
	b.retryNum++
	if b.jitterFactor > 0 {
		d += time.Duration(float64(d) * b.jitterFactor * b.rand())
	}
	return d
}

func (b *jitteredBackOff) Reset() {
	b.retryNum = 0
}
