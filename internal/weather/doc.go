// Package weather fetches daily forecasts from the OpenWeatherMap One Call
// API for the site location.
//
// Client implements the WeatherProvider interfaces of both the automation
// engine and the optimizer. Transient failures (network errors, HTTP 429
// and 5xx) are retried with exponential backoff; the last good forecast is
// cached for a short TTL so both consumers share one upstream call.
package weather
