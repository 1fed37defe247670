// Package bandwidth implements a token-bucket throughput limiter shared by
// all concurrent transfer sessions. Tokens are bytes; every encrypt-then-send
// and receive-then-decrypt step acquires tokens proportional to payload size
// before touching the socket, so throttling is byte-accurate regardless of
// the configured chunk size.
package bandwidth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrRequestTooLarge indicates a single acquisition exceeds bucket capacity
// and could never be satisfied.
var ErrRequestTooLarge = errors.New("bandwidth request exceeds bucket capacity")

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// realTime uses the standard library clock.
type realTime struct{}

func (realTime) Now() time.Time { return time.Now() }

func (realTime) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Limiter is a token-bucket rate limiter. The zero value is not usable;
// construct with NewLimiter. A nil *Limiter disables throttling: all
// methods are safe to call and return immediately.
type Limiter struct {
	mu       sync.Mutex
	tokens   float64   // current token count, bytes
	capacity float64   // bucket ceiling, bytes
	rate     float64   // refill rate, bytes per second
	last     time.Time // last refill timestamp
	penalty  time.Time // receiver backpressure: no tokens granted before this
	waited   time.Duration

	clock TimeProvider
}

// NewLimiter creates a limiter refilling at rate bytes per second. The
// bucket capacity is one second's worth of tokens, which bounds burst size
// to the sustained rate. A rate of zero or less returns nil, meaning
// unlimited.
func NewLimiter(rate int64) *Limiter {
	if rate <= 0 {
		return nil
	}
	clock := realTime{}
	logrus.WithFields(logrus.Fields{
		"function":       "NewLimiter",
		"rate_bytes_sec": rate,
	}).Info("Creating bandwidth limiter")
	return &Limiter{
		tokens:   float64(rate),
		capacity: float64(rate),
		rate:     float64(rate),
		last:     clock.Now(),
		clock:    clock,
	}
}

// SetTimeProvider replaces the clock. Tests only; not safe to call while
// the limiter is in use.
func (l *Limiter) SetTimeProvider(tp TimeProvider) {
	if l == nil {
		return
	}
	l.clock = tp
	l.last = tp.Now()
}

// Wait blocks until n tokens are available and consumes them. It sleeps
// cooperatively between refill checks rather than spinning, and returns
// early with the context error if ctx is cancelled. I/O must never happen
// while the internal lock is held; the lock covers token arithmetic only.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}
	if float64(n) > l.capacity {
		return ErrRequestTooLarge
	}

	for {
		wait, ok := l.tryAcquire(float64(n))
		if ok {
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
		l.mu.Lock()
		l.waited += wait
		l.mu.Unlock()
	}
}

// TakeWaited reports time spent blocked in Wait since the last call and
// resets the counter. A receiver reads it on the ack cadence to derive the
// backpressure hint sent to its peer.
func (l *Limiter) TakeWaited() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.waited
	l.waited = 0
	return w
}

// tryAcquire refills from elapsed time, then either consumes n tokens or
// reports how long to sleep before the deficit could be covered.
func (l *Limiter) tryAcquire(n float64) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.refillLocked(now)

	if now.Before(l.penalty) {
		return l.penalty.Sub(now), false
	}
	if l.tokens >= n {
		l.tokens -= n
		return 0, true
	}

	deficit := n - l.tokens
	wait := time.Duration(deficit / l.rate * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

// refillLocked adds tokens for the time elapsed since the last refill.
// Caller holds l.mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// Penalize applies a receiver backpressure hint: no tokens are granted for
// the given duration. Hints extend but never shorten an active penalty.
func (l *Limiter) Penalize(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.clock.Now().Add(d)
	if until.After(l.penalty) {
		l.penalty = until
		logrus.WithFields(logrus.Fields{
			"function": "Penalize",
			"duration": d,
		}).Debug("Applying backpressure penalty")
	}
}

// Rate returns the configured refill rate in bytes per second, or 0 for a
// nil (unlimited) limiter.
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return int64(l.rate)
}
