// irrigationd - Plant Irrigation Automation Daemon
//
// This is the main entry point for the irrigation daemon. It runs:
//   - The automation engine (smart, scheduled and sensor-based rules)
//   - The schedule optimizer (rule-based, genetic and reinforcement strategies)
//   - The MQTT device gateway and sensor ingestion
//   - The REST API and WebSocket event stream
//
// Configuration is read from configs/config.yaml, or the path in
// IRRIGATION_CONFIG. A .env file next to the working directory is loaded
// first so secrets can stay out of the YAML.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/advisor"
	"github.com/nerrad567/gray-logic-irrigation/internal/api"
	"github.com/nerrad567/gray-logic-irrigation/internal/audit"
	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/gateway"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/cache"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-irrigation/internal/metrics"
	"github.com/nerrad567/gray-logic-irrigation/internal/optimizer"
	"github.com/nerrad567/gray-logic-irrigation/internal/sensors"
	"github.com/nerrad567/gray-logic-irrigation/internal/weather"
	"github.com/nerrad567/gray-logic-irrigation/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// Default env file, loaded before the configuration
	defaultEnvFile = ".env"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a signed API token for `subject` and exit")
	migrate := flag.String("migrate", "", "run a schema `action` (status, up, down) and exit")
	flag.Parse()

	if err := config.LoadEnvFile(defaultEnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if err := printToken(os.Stdout, getConfigPath(), *issueToken); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *migrate != "" {
		if err := runMigrate(context.Background(), os.Stdout, getConfigPath(), *migrate); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// printToken writes a bearer token for subject, signed with the configured
// secret and valid for the configured TTL.
func printToken(w io.Writer, configPath, subject string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, cfg.Security.JWT.TokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// runMigrate applies, rolls back or reports schema migrations against the
// configured database without starting the daemon.
func runMigrate(ctx context.Context, w io.Writer, configPath, action string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q (want status, up or down)", action)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "database: %s\n", db.Path())
	for _, m := range applied {
		fmt.Fprintf(w, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(w, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting irrigationd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// ─── Storage ───────────────────────────────────────────────────

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled, readings are kept in memory only")
	}

	// Redis only fronts the Q-table store; failing to reach it is not fatal.
	var redisClient *cache.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.Connect(ctx, cfg.Redis)
		if err != nil {
			log.Warn("Redis unavailable, Q-tables will be read from SQLite", "error", err)
			redisClient = nil
		} else {
			defer func() {
				log.Info("closing Redis connection")
				if closeErr := redisClient.Close(); closeErr != nil {
					log.Error("error closing Redis", "error", closeErr)
				}
			}()
			log.Info("Redis connected", "addr", cfg.Redis.Addr)
		}
	}

	// ─── Messaging ─────────────────────────────────────────────────

	topics := mqtt.Topics{Prefix: cfg.Gateway.TopicPrefix}
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	appMetrics := metrics.New()

	gw := gateway.New(mqttClient, cfg.Gateway, log.With("component", "gateway"), appMetrics)
	if startErr := gw.Start(); startErr != nil {
		return fmt.Errorf("starting device gateway: %w", startErr)
	}
	defer func() {
		log.Info("stopping device gateway")
		if stopErr := gw.Stop(); stopErr != nil {
			log.Error("error stopping device gateway", "error", stopErr)
		}
	}()

	// With InfluxDB enabled, acknowledged commands are also written to the
	// time-series store.
	var deviceGateway automation.DeviceGateway = gw
	var readingWriter sensors.ReadingWriter
	var readingSource sensors.ReadingSource
	if influxClient != nil {
		deviceGateway = sensors.NewDeliveryRecorder(gw, influxClient)
		readingWriter = influxClient
		readingSource = sensors.NewInfluxReadings(influxClient)
	}

	ingestor := sensors.NewIngestor(mqttClient, topics, readingWriter, log.With("component", "ingest"))
	if startErr := ingestor.Start(); startErr != nil {
		return fmt.Errorf("starting sensor ingestion: %w", startErr)
	}
	defer func() {
		if stopErr := ingestor.Stop(); stopErr != nil {
			log.Error("error stopping sensor ingestion", "error", stopErr)
		}
	}()
	log.Info("sensor ingestion started", "topic", topics.AllSensors())

	// ─── Domain Services ───────────────────────────────────────────

	plants := sensors.NewSQLitePlantRepository(db.DB)
	sensorService := sensors.NewService(sensors.Dependencies{
		Plants:   plants,
		Readings: readingSource,
		Watering: sensors.NewSQLiteWateringHistory(db.DB),
		Cache:    ingestor,
	}, log.With("component", "sensors"))

	advice := advisor.New(sensorService)

	var forecast *weather.Client
	if cfg.Weather.Enabled {
		forecast = weather.New(cfg.Weather, cfg.Site.Location, log.With("component", "weather"))
		log.Info("weather forecasts enabled")
	}

	var qtables optimizer.QTableStore = optimizer.NewSQLiteQTableStore(db.DB)
	if redisClient != nil {
		qtables = optimizer.NewCachedQTableStore(qtables, redisClient.Redis(), cfg.Redis.TTL, log.With("component", "qtable-cache"))
	}

	optDeps := optimizer.Dependencies{
		Data:     sensorService,
		QTables:  qtables,
		Learning: optimizer.NewSQLiteLearningLog(db.DB, cfg.Optimizer.LearningLogLimit),
		Metrics:  appMetrics,
	}
	if forecast != nil {
		optDeps.Weather = forecast
	}
	scheduleOptimizer := optimizer.New(optDeps, optimizer.Config{
		DefaultAlgorithm:  cfg.Optimizer.DefaultAlgorithm,
		DefaultHorizon:    cfg.Optimizer.DefaultHorizon,
		ProviderTimeout:   cfg.Optimizer.ProviderTimeout,
		HistoryWindowDays: cfg.Optimizer.HistoryWindowDays,
		ReoptimizeEvery:   cfg.Optimizer.ReoptimizeEvery,
	}, log.With("component", "optimizer"))

	// The hub is shared so engine events reach WebSocket clients; the relay
	// mirrors them onto MQTT.
	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)
	relay := api.NewEventRelay(hub, mqttClient, topics, log.With("component", "relay"))

	engineDeps := automation.Dependencies{
		Sensors:     sensorService,
		Predictions: advice,
		Warnings:    advice,
		Gateway:     deviceGateway,
		Hub:         relay,
		Metrics:     appMetrics,
	}
	if forecast != nil {
		engineDeps.Weather = forecast
	}

	registry := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	engine := automation.NewEngine(registry, engineDeps, engineConfig(cfg.Automation, cfg.Location()), log.With("component", "automation"))
	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting automation engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping automation engine")
		engine.Close()
	}()

	// ─── API ───────────────────────────────────────────────────────

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Engine:      engine,
		Plants:      plants,
		Optimizer:   scheduleOptimizer,
		Sensors:     sensorService,
		Predictions: advice,
		Warnings:    advice,
		Metrics:     appMetrics,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Hub:         hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	if cfg.Security.JWT.Secret == "" {
		log.Warn("API authentication disabled: security.jwt.secret is empty")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, redisClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, engine, ingestion,
	// gateway, MQTT, Redis, InfluxDB, database.

	log.Info("irrigationd stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IRRIGATION_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IRRIGATION_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// engineConfig converts the YAML automation settings.
func engineConfig(c config.AutomationConfig, loc *time.Location) automation.Config {
	return automation.Config{
		SmartInterval:   c.SmartInterval,
		SensorInterval:  c.SensorInterval,
		ProviderTimeout: c.ProviderTimeout,
		ErrorThreshold:  c.ErrorThreshold,
		HistoryCapacity: c.HistoryCapacity,
		SafetyLimits: automation.SafetyLimits{
			MaxWaterPerHour:           c.SafetyLimits.MaxWaterPerHour,
			MaxWaterPerDay:            c.SafetyLimits.MaxWaterPerDay,
			MinTimeBetweenIrrigations: automation.Duration{Duration: c.SafetyLimits.MinTimeBetweenIrrigations},
			MaxConsecutiveIrrigations: c.SafetyLimits.MaxConsecutiveIrrigations,
		},
		Location: loc,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient and redisClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, redisClient *cache.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	var errs []error
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
