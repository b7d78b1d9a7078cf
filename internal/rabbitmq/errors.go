package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrManagerClosed is returned by every publish issued once Close started
	ErrManagerClosed = errors.New("rabbitmq: connection manager is closed")
	// ErrMaxRetriesExceeded matches every ReconnectExhaustedError
	ErrMaxRetriesExceeded = errors.New("rabbitmq: reconnect budget exhausted")
	// ErrConnectionNotReady means a reconnect is in flight
	ErrConnectionNotReady = errors.New("rabbitmq: connection not ready")

	ErrConnectionTimeout     = errors.New("rabbitmq: dial timed out")
	ErrChannelCreationFailed = errors.New("rabbitmq: failed to open channel")

	// ErrPublishTimeout means the broker did not confirm in time
	ErrPublishTimeout = errors.New("rabbitmq: confirm timed out")
	// ErrPublishNotConfirmed means the broker nacked the message
	ErrPublishNotConfirmed = errors.New("rabbitmq: message nacked by broker")
)

// ConnectionError is a failed dial or connection close. The URL never
// contains the password.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("rabbitmq: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rabbitmq: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError is a failure to configure or close the publish channel
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq: channel %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PublishError is a rejected or broken publish. It triggers the reconnect
// path and only reaches callers wrapped in a ReconnectExhaustedError.
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq: publish to exchange %q with routing key %q: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ReconnectExhaustedError is returned once the reconnect budget is spent.
// It wraps the failure that was being retried when the budget ran out.
type ReconnectExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("rabbitmq: giving up after %d reconnect attempts: %v", e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error {
	return e.Err
}

// Is reports ErrMaxRetriesExceeded as a match
func (e *ReconnectExhaustedError) Is(target error) bool {
	return target == ErrMaxRetriesExceeded
}

// IsRetryable reports whether err should enter the reconnect path
func IsRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrMaxRetriesExceeded) &&
		!errors.Is(err, ErrManagerClosed)
}

// IsFatal reports whether a publish failure must be returned as is
func IsFatal(err error) bool {
	return !IsRetryable(err)
}

// SanitizeURL hides the password of a broker URL for logging
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
