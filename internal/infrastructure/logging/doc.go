// Package logging provides structured logging for irrigationd.
//
// It wraps log/slog so every entry carries the service and version fields,
// with JSON output for production and text output for development.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("gateway").Info("connected", "broker", addr)
//
// Never log secrets, tokens, passwords, or API keys.
package logging
