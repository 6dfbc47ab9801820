package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the irrigation daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Redis      RedisConfig      `yaml:"redis"`
	Weather    WeatherConfig    `yaml:"weather"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Automation AutomationConfig `yaml:"automation"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates used for weather forecasts.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig configures the optional Q-table cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// WeatherConfig configures the forecast provider.
type WeatherConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// GatewayConfig configures the MQTT device gateway.
type GatewayConfig struct {
	TopicPrefix string               `yaml:"topic_prefix"`
	AckTimeout  time.Duration        `yaml:"ack_timeout"`
	Breaker     CircuitBreakerConfig `yaml:"breaker"`
}

// CircuitBreakerConfig mirrors gobreaker.Settings.
type CircuitBreakerConfig struct {
	ConsecutiveFailures int           `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
	Interval            time.Duration `yaml:"interval"`
}

// AutomationConfig contains engine-wide defaults.
type AutomationConfig struct {
	SmartInterval   time.Duration      `yaml:"smart_interval"`
	SensorInterval  time.Duration      `yaml:"sensor_interval"`
	ProviderTimeout time.Duration      `yaml:"provider_timeout"`
	ErrorThreshold  int                `yaml:"error_threshold"`
	HistoryCapacity int                `yaml:"history_capacity"`
	SafetyLimits    SafetyLimitsConfig `yaml:"safety_limits"`
}

// SafetyLimitsConfig holds the default hard limits merged into every rule.
type SafetyLimitsConfig struct {
	MaxWaterPerHour           float64       `yaml:"max_water_per_hour"`
	MaxWaterPerDay            float64       `yaml:"max_water_per_day"`
	MinTimeBetweenIrrigations time.Duration `yaml:"min_time_between_irrigations"`
	MaxConsecutiveIrrigations int           `yaml:"max_consecutive_irrigations"`
}

// OptimizerConfig contains schedule optimizer settings.
type OptimizerConfig struct {
	DefaultAlgorithm  string        `yaml:"default_algorithm"`
	DefaultHorizon    int           `yaml:"default_horizon"`
	ProviderTimeout   time.Duration `yaml:"provider_timeout"`
	LearningLogLimit  int           `yaml:"learning_log_limit"`
	ReoptimizeEvery   time.Duration `yaml:"reoptimize_every"`
	HistoryWindowDays int           `yaml:"history_window_days"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables bearer authentication on the API.
type JWTConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern IRRIGATION_SECTION_KEY,
// for example IRRIGATION_DATABASE_PATH or IRRIGATION_MQTT_HOST.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Irrigation",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/irrigation.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "irrigationd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  5,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Weather: WeatherConfig{
			BaseURL:    "https://api.openweathermap.org/data/3.0/onecall",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
		},
		Gateway: GatewayConfig{
			TopicPrefix: "irrigation",
			AckTimeout:  10 * time.Second,
			Breaker: CircuitBreakerConfig{
				ConsecutiveFailures: 3,
				OpenTimeout:         30 * time.Second,
				Interval:            time.Minute,
			},
		},
		Automation: AutomationConfig{
			SmartInterval:   30 * time.Minute,
			SensorInterval:  15 * time.Minute,
			ProviderTimeout: 15 * time.Second,
			ErrorThreshold:  5,
			HistoryCapacity: 1000,
			SafetyLimits: SafetyLimitsConfig{
				MaxWaterPerHour:           500,
				MaxWaterPerDay:            2000,
				MinTimeBetweenIrrigations: 30 * time.Minute,
				MaxConsecutiveIrrigations: 3,
			},
		},
		Optimizer: OptimizerConfig{
			DefaultAlgorithm:  "rule_based",
			DefaultHorizon:    7,
			ProviderTimeout:   15 * time.Second,
			LearningLogLimit:  1000,
			ReoptimizeEvery:   24 * time.Hour,
			HistoryWindowDays: 7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				TokenTTL: 24 * time.Hour,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IRRIGATION_SITE_TIMEZONE"); v != "" {
		cfg.Site.Timezone = v
	}

	if v := os.Getenv("IRRIGATION_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("IRRIGATION_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IRRIGATION_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("IRRIGATION_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IRRIGATION_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("IRRIGATION_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("IRRIGATION_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("IRRIGATION_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("IRRIGATION_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("IRRIGATION_WEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}

	if v := os.Getenv("IRRIGATION_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

var validAlgorithms = map[string]struct{}{
	"rule_based":    {},
	"genetic":       {},
	"reinforcement": {},
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA zone", c.Site.Timezone))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Weather.Enabled && c.Weather.APIKey == "" {
		errs = append(errs, "weather.api_key is required when weather is enabled (set IRRIGATION_WEATHER_API_KEY)")
	}

	if c.Gateway.AckTimeout <= 0 {
		errs = append(errs, "gateway.ack_timeout must be positive")
	}

	a := c.Automation
	if a.SmartInterval <= 0 || a.SensorInterval <= 0 {
		errs = append(errs, "automation intervals must be positive")
	}
	if a.ProviderTimeout <= 0 {
		errs = append(errs, "automation.provider_timeout must be positive")
	}
	if a.ErrorThreshold < 1 {
		errs = append(errs, "automation.error_threshold must be at least 1")
	}
	if a.HistoryCapacity < 1 {
		errs = append(errs, "automation.history_capacity must be at least 1")
	}
	if a.SafetyLimits.MaxWaterPerHour <= 0 || a.SafetyLimits.MaxWaterPerDay <= 0 {
		errs = append(errs, "automation.safety_limits water caps must be positive")
	}

	if _, ok := validAlgorithms[c.Optimizer.DefaultAlgorithm]; !ok {
		errs = append(errs, fmt.Sprintf("optimizer.default_algorithm %q is not supported", c.Optimizer.DefaultAlgorithm))
	}
	if c.Optimizer.DefaultHorizon < 1 || c.Optimizer.DefaultHorizon > 30 {
		errs = append(errs, "optimizer.default_horizon must be between 1 and 30")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site time zone. Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
