package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/api"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
)

const testJWTSecret = "test-secret-for-development-only-0123456789"

// writeConfig writes content to a temp config file and points
// IRRIGATION_CONFIG at it.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("IRRIGATION_CONFIG", path)
	t.Setenv("IRRIGATION_JWT_SECRET", "")
	t.Setenv("IRRIGATION_DATABASE_PATH", "")
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("IRRIGATION_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

// TestRun_MissingDatabasePath verifies validation rejects an empty database path.
func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
site:
  id: test-site
  timezone: "Europe/London"

database:
  path: ""

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 1

influxdb:
  enabled: false

logging:
  level: info
  format: text
  output: stdout
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("error = %v, want database.path validation failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("IRRIGATION_CONFIG", "")
		if got := getConfigPath(); got != defaultConfigPath {
			t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
		}
	})

	t.Run("env override", func(t *testing.T) {
		t.Setenv("IRRIGATION_CONFIG", "/etc/irrigation/config.yaml")
		if got := getConfigPath(); got != "/etc/irrigation/config.yaml" {
			t.Errorf("getConfigPath() = %q", got)
		}
	})
}

func TestEngineConfig(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	got := engineConfig(config.AutomationConfig{
		SmartInterval:   10 * time.Minute,
		SensorInterval:  2 * time.Minute,
		ProviderTimeout: 15 * time.Second,
		ErrorThreshold:  5,
		HistoryCapacity: 1000,
		SafetyLimits: config.SafetyLimitsConfig{
			MaxWaterPerHour:           400,
			MaxWaterPerDay:            1500,
			MinTimeBetweenIrrigations: 45 * time.Minute,
			MaxConsecutiveIrrigations: 2,
		},
	}, loc)

	if got.SmartInterval != 10*time.Minute || got.SensorInterval != 2*time.Minute {
		t.Errorf("intervals = %v/%v", got.SmartInterval, got.SensorInterval)
	}
	if got.ProviderTimeout != 15*time.Second {
		t.Errorf("ProviderTimeout = %v", got.ProviderTimeout)
	}
	if got.ErrorThreshold != 5 || got.HistoryCapacity != 1000 {
		t.Errorf("ErrorThreshold = %d, HistoryCapacity = %d", got.ErrorThreshold, got.HistoryCapacity)
	}
	limits := got.SafetyLimits
	if limits.MaxWaterPerHour != 400 || limits.MaxWaterPerDay != 1500 {
		t.Errorf("water caps = %v/%v", limits.MaxWaterPerHour, limits.MaxWaterPerDay)
	}
	if limits.MinTimeBetweenIrrigations.Duration != 45*time.Minute {
		t.Errorf("MinTimeBetweenIrrigations = %v", limits.MinTimeBetweenIrrigations.Duration)
	}
	if limits.MaxConsecutiveIrrigations != 2 {
		t.Errorf("MaxConsecutiveIrrigations = %d", limits.MaxConsecutiveIrrigations)
	}
	if got.Location != loc {
		t.Errorf("Location = %v, want %v", got.Location, loc)
	}
}

// TestEngineConfig_Defaults verifies the shipped defaults survive conversion.
func TestEngineConfig_Defaults(t *testing.T) {
	cfg := config.Default()
	got := engineConfig(cfg.Automation, cfg.Location())

	if got.SafetyLimits.MaxWaterPerDay != cfg.Automation.SafetyLimits.MaxWaterPerDay {
		t.Errorf("MaxWaterPerDay = %v, want %v", got.SafetyLimits.MaxWaterPerDay, cfg.Automation.SafetyLimits.MaxWaterPerDay)
	}
	if got.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", got.Location)
	}
}

func TestPrintToken(t *testing.T) {
	path := writeConfig(t, `
site:
  id: test-site
security:
  jwt:
    secret: "`+testJWTSecret+`"
    token_ttl: 1h
`)

	var buf bytes.Buffer
	if err := printToken(&buf, path, "dashboard"); err != nil {
		t.Fatalf("printToken() error = %v", err)
	}

	subject, err := api.ParseToken(testJWTSecret, strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if subject != "dashboard" {
		t.Errorf("subject = %q, want dashboard", subject)
	}
}

func TestPrintToken_Errors(t *testing.T) {
	t.Run("no secret", func(t *testing.T) {
		path := writeConfig(t, "site:\n  id: test-site\n")
		var buf bytes.Buffer
		if err := printToken(&buf, path, "dashboard"); err == nil {
			t.Error("printToken() should fail without a jwt secret")
		}
		if buf.Len() != 0 {
			t.Errorf("output = %q, want empty", buf.String())
		}
	})

	t.Run("missing config", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printToken(&buf, "/nonexistent/config.yaml", "dashboard"); err == nil {
			t.Error("printToken() should fail with missing config")
		}
	})
}

func TestRunMigrate(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "irrigation.db")
	path := writeConfig(t, "site:\n  id: test-site\ndatabase:\n  path: \""+dbPath+"\"\n")
	ctx := context.Background()

	var buf bytes.Buffer
	if err := runMigrate(ctx, &buf, path, "status"); err != nil {
		t.Fatalf("status error = %v", err)
	}
	if n := strings.Count(buf.String(), "pending"); n != 4 {
		t.Errorf("fresh database: %d pending, want 4\n%s", n, buf.String())
	}

	buf.Reset()
	if err := runMigrate(ctx, &buf, path, "up"); err != nil {
		t.Fatalf("up error = %v", err)
	}
	if strings.Contains(buf.String(), "pending") || strings.Count(buf.String(), "applied") != 4 {
		t.Errorf("after up:\n%s", buf.String())
	}

	buf.Reset()
	if err := runMigrate(ctx, &buf, path, "down"); err != nil {
		t.Fatalf("down error = %v", err)
	}
	if !strings.Contains(buf.String(), "pending  20260304_090000  audit_logs") {
		t.Errorf("after down, audit_logs should be pending:\n%s", buf.String())
	}

	if err := runMigrate(ctx, &buf, path, "sideways"); err == nil {
		t.Error("unknown action should fail")
	}
}
