package cache

import "errors"

// Sentinel errors for cache operations.
var (
	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("cache: connection failed")

	// ErrDisabled indicates Redis is disabled in configuration.
	ErrDisabled = errors.New("cache: disabled in configuration")
)
