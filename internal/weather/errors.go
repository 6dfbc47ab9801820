package weather

import "errors"

var (
	// ErrRequestFailed is returned when the forecast could not be fetched.
	ErrRequestFailed = errors.New("weather: request failed")

	// ErrUnauthorized is returned when the API key is rejected.
	ErrUnauthorized = errors.New("weather: api key rejected")

	// ErrBadResponse is returned when the response cannot be decoded.
	ErrBadResponse = errors.New("weather: bad response")
)
