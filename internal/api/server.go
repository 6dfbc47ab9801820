// Package api provides the HTTP REST API and WebSocket server for the
// irrigation daemon.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/audit"
	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-irrigation/internal/optimizer"
	"github.com/nerrad567/gray-logic-irrigation/internal/sensors"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// AutomationEngine is the part of *automation.Engine the API drives.
type AutomationEngine interface {
	SetupAutomation(ctx context.Context, plantID string, cfg automation.RuleConfig) (automation.SetupResult, error)
	StartAutomation(ctx context.Context, ruleID string) bool
	StopAutomation(ruleID string) bool
	DeleteAutomation(ctx context.Context, ruleID string) error
	UpdateAutomationConfig(ctx context.Context, ruleID string, upd automation.RuleUpdate) (*automation.Rule, error)
	GetAutomationStatus(ruleID string) automation.Status
	GetAllAutomations() []automation.Rule
	GetAutomationHistory(ruleID string, limit int) []automation.HistoryEntry
	GetAutomationStatistics(ruleID string) (*automation.StatisticsReport, error)
	ExecuteIrrigation(ctx context.Context, ruleID string, amount float64) (automation.ExecutionResult, error)
}

// ScheduleOptimizer produces irrigation schedules. *optimizer.Optimizer implements it.
type ScheduleOptimizer interface {
	Optimize(ctx context.Context, plantID string, opts optimizer.Options) (*optimizer.Result, error)
	Algorithms() []string
}

// MetricsExporter serves /metrics and instruments routes. *metrics.Metrics implements it.
type MetricsExporter interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Engine AutomationEngine
	Plants sensors.PlantRepository

	// Optional collaborators; their routes answer 503 when nil.
	Optimizer   ScheduleOptimizer
	Sensors     automation.SensorDataProvider
	Predictions automation.PredictionProvider
	Warnings    automation.WarningProvider
	Metrics     MetricsExporter
	Audit       audit.Repository

	Hub     *Hub // If set, the server uses this hub instead of creating its own
	Version string
}

// Server is the HTTP API server for the irrigation daemon.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	engine      AutomationEngine
	plants      sensors.PlantRepository
	optimizer   ScheduleOptimizer
	sensors     automation.SensorDataProvider
	predictions automation.PredictionProvider
	warnings    automation.WarningProvider
	metrics     MetricsExporter
	auditRepo   audit.Repository
	auditCh     chan *audit.Entry
	auditDone   chan struct{}
	version     string
	tickets     *ticketStore
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Logger, Engine and Plants are required; the rest are optional
//
// Returns:
//   - *Server: Configured server ready to be started
//   - error: If a required dependency is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("automation engine is required")
	}
	if deps.Plants == nil {
		return nil, fmt.Errorf("plant repository is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		logger:      deps.Logger,
		engine:      deps.Engine,
		plants:      deps.Plants,
		optimizer:   deps.Optimizer,
		sensors:     deps.Sensors,
		predictions: deps.Predictions,
		warnings:    deps.Warnings,
		metrics:     deps.Metrics,
		auditRepo:   deps.Audit,
		version:     deps.Version,
		tickets:     newTicketStore(),
	}

	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}

	// Use externally-provided hub if available (needed when the engine also
	// requires the hub for WebSocket broadcasting).
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the hub, ticket cleanup and audit writer
//
// Returns:
//   - error: Always nil; listener failures are logged from the goroutine
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.tickets.cleanLoop(srvCtx)

	if s.auditCh != nil {
		s.auditDone = make(chan struct{})
		go func() {
			defer close(s.auditDone)
			s.drainAuditLog(srvCtx)
		}()
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. Queued audit entries are
// flushed before Close returns.
func (s *Server) Close() error {
	if s.server == nil {
		if s.cancel != nil {
			s.cancel()
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	s.cancel()
	if s.auditDone != nil {
		<-s.auditDone
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// Hub returns the server's WebSocket hub, or nil before Start when none
// was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}
