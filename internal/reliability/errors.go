package reliability

import (
	"errors"
)

var (
	// ErrUnknownBackoff is returned by ParseBackoff for unrecognised names
	ErrUnknownBackoff = errors.New("retry: unknown backoff strategy")
)
