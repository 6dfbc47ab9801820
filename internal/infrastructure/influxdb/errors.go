package influxdb

import "errors"

var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrQueryFailed      = errors.New("influxdb: query failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The service then runs on the in-memory reading cache alone.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	errUnhealthy = errors.New("server not healthy")
)
