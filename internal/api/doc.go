// Package api implements the HTTP REST API and WebSocket server for the
// irrigation daemon.
//
// This package provides:
//   - REST endpoints for automation CRUD, start/stop and manual irrigation
//   - Plant profile endpoints, latest readings, predictions and alerts
//   - Schedule optimization on demand
//   - WebSocket hub for engine events (irrigation.executed,
//     automation.disabled, automation.alert)
//   - JWT bearer authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS, metrics)
//
// # Security
//
// When security.jwt.secret is set every route except /api/v1/health and
// /metrics requires an HS256 bearer token. Browsers cannot set headers on a
// WebSocket upgrade, so /api/v1/ws also accepts a single-use ticket obtained
// from POST /api/v1/ws-ticket. With an empty secret authentication is off.
//
// # Graceful Degradation
//
// The optimizer, advisor and sensor service are optional. Routes that need
// a missing collaborator answer 503 instead of failing at startup.
package api
