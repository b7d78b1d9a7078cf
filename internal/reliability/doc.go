// Package reliability provides the backoff strategies used between broker
// reconnect attempts.
//
// This package implements:
//   - QuadraticBackoff: attempt² × base, the default (1s, 4s, 9s, ...)
//   - ExponentialBackoff: multiplier^(attempt-1) × initial with jitter
//   - LinearBackoff: attempt × interval between a floor and a cap
//   - FixedDelay: the same wait for every attempt
//
// Attempts are 1-based. All strategies are stateless and safe for
// concurrent use.
//
// Example usage:
//
//	b, err := reliability.ParseBackoff("quadratic", time.Second)
//	if err != nil {
//	    return err
//	}
//	time.Sleep(b.Delay(attempt))
package reliability
