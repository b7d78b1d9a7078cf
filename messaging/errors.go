package messaging

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration matches every ConfigError
	ErrInvalidConfiguration = errors.New("messaging: invalid configuration")
	// ErrNoRoute matches every RoutingError
	ErrNoRoute = errors.New("messaging: no route for message")
)

// ConfigError reports a missing, contradictory or malformed option. It is
// raised at construction and never retried.
type ConfigError struct {
	Option string // Option name as it appears in configuration
	Reason string
	Err    error // Underlying error, if any
}

func (e *ConfigError) Error() string {
	if e.Option == "" {
		return fmt.Sprintf("messaging: invalid configuration: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("messaging: invalid %s: %s: %v", e.Option, e.Reason, e.Err)
	}
	return fmt.Sprintf("messaging: invalid %s: %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is matches ErrInvalidConfiguration
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

// RoutingError means no queue could be resolved for one message. Retrying
// cannot fix it, so it is surfaced immediately.
type RoutingError struct {
	Mode  RoutingMode
	Field string
	Value string
}

func (e *RoutingError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("messaging: no %s route: field %q missing from message", e.Mode, e.Field)
	}
	return fmt.Sprintf("messaging: no %s route for %s=%q", e.Mode, e.Field, e.Value)
}

// Is matches ErrNoRoute
func (e *RoutingError) Is(target error) bool {
	return target == ErrNoRoute
}

// TransformError wraps a failure while shaping a record
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("messaging: %s failed: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
