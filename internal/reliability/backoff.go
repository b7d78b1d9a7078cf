package reliability

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Backoff computes the delay to wait before reconnect attempt n (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to the Backoff interface
type BackoffFunc func(attempt int) time.Duration

// Delay implements Backoff
func (f BackoffFunc) Delay(attempt int) time.Duration {
	return f(attempt)
}

// QuadraticBackoff waits attempt² × Base, capped at Max when Max is set.
// With the default Base of one second the delays are 1s, 4s, 9s, ...
type QuadraticBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// NewQuadraticBackoff creates a quadratic backoff
func NewQuadraticBackoff(base, max time.Duration) *QuadraticBackoff {
	return &QuadraticBackoff{Base: base, Max: max}
}

// Delay implements Backoff
func (q *QuadraticBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := time.Duration(attempt*attempt) * q.Base
	if q.Max > 0 && delay > q.Max {
		return q.Max
	}
	return delay
}

// ExponentialBackoff implements exponential backoff
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
}

// NewExponentialBackoff creates a new exponential backoff policy
func NewExponentialBackoff(initial, max time.Duration, multiplier float64) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		Jitter:          true,
	}
}

// Delay implements Backoff
func (e *ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt-1))

	if e.MaxInterval > 0 && delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}

	// ±15% jitter
	if e.Jitter {
		jitter := rand.Float64() * 0.3 * delay
		delay = delay + jitter - (0.15 * delay)
	}

	return time.Duration(delay)
}

// LinearBackoff grows the delay by Interval per attempt, bounded by Min and Max.
type LinearBackoff struct {
	Interval time.Duration
	Min      time.Duration
	Max      time.Duration
}

// NewLinearBackoff creates a new linear backoff policy
func NewLinearBackoff(interval, min, max time.Duration) *LinearBackoff {
	return &LinearBackoff{
		Interval: interval,
		Min:      min,
		Max:      max,
	}
}

// Delay implements Backoff
func (l *LinearBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := time.Duration(attempt) * l.Interval
	if delay < l.Min {
		delay = l.Min
	}
	if l.Max > 0 && delay > l.Max {
		delay = l.Max
	}
	return delay
}

// FixedDelay waits the same duration before every attempt
type FixedDelay struct {
	Wait time.Duration
}

// NewFixedDelay creates a new fixed delay policy
func NewFixedDelay(delay time.Duration) *FixedDelay {
	return &FixedDelay{Wait: delay}
}

// Delay implements Backoff
func (f *FixedDelay) Delay(int) time.Duration {
	return f.Wait
}

// DefaultBackoff returns the attempt² × 1s strategy used for reconnects.
func DefaultBackoff() Backoff {
	return NewQuadraticBackoff(time.Second, 0)
}

// ParseBackoff resolves a strategy name from configuration.
// An empty name selects the default.
func ParseBackoff(name string, base time.Duration) (Backoff, error) {
	if base <= 0 {
		base = time.Second
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "quadratic":
		return NewQuadraticBackoff(base, 0), nil
	case "exponential":
		return NewExponentialBackoff(base, 5*time.Minute, 2.0), nil
	case "linear":
		return NewLinearBackoff(base, 0, 0), nil
	case "fixed":
		return NewFixedDelay(base), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackoff, name)
	}
}
