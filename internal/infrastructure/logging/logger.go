package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" attribute.
const ServiceName = "irrigationd"

// redacted replaces the value of any attribute whose key names a secret.
const redacted = "[REDACTED]"

// secretKeys are matched case-insensitively as substrings of attribute keys.
var secretKeys = []string{"token", "secret", "password", "authorization", "api_key"}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Logger is a slog.Logger tagged with the service name and build version.
// A *Logger satisfies the narrow Logger interfaces declared by the
// automation, optimizer, gateway and mqtt packages.
type Logger struct {
	*slog.Logger
}

// New writes to stderr when cfg.Output says so and to stdout otherwise.
func New(cfg config.LoggingConfig, version string) *Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}
	return NewWithWriter(cfg, version, w)
}

// NewWithWriter writes to w. Unknown formats fall back to JSON and unknown
// levels to info. Timestamps are UTC regardless of the site timezone.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: replaceAttr,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	return &Logger{slog.New(h).With("service", ServiceName, "version", version)}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// Default is the bootstrap logger used until config is loaded: JSON to
// stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

func parseLevel(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.Time(slog.TimeKey, a.Value.Time().UTC())
	}
	if isSecret(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSecret(key string) bool {
	key = strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

// With returns a child logger carrying args on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Component tags a child logger with component=name.
//
//	engineLog := logger.Component("automation")
//	engineLog.Info("rule started", "rule_id", id)
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}
