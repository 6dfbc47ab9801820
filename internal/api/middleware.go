package api

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeySubject   contextKey = "subject"
)

// maxRequestBodySize bounds JSON bodies; the largest legitimate one is a
// plant profile with its care thresholds.
const maxRequestBodySize = 1 << 20

const (
	defaultCORSMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	defaultCORSHeaders = "Authorization, Content-Type, X-Request-ID"
)

// requestIDMiddleware propagates the caller's X-Request-ID or assigns a
// UUID, echoing it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingMiddleware logs one line per request. Health probes log at debug
// so a load balancer polling every few seconds does not drown the log;
// server errors log at error.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		}
		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Error("http request", args...)
		case strings.HasSuffix(r.URL.Path, "/health"):
			s.logger.Debug("http request", args...)
		default:
			s.logger.Info("http request", args...)
		}
	})
}

// recoveryMiddleware turns a handler panic into a 500. The WebSocket
// upgrade has hijacked the connection by the time its pumps run, so only
// the handshake is covered for /ws.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rec)
				}
				s.logger.Error("panic recovered in HTTP handler",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware answers preflights and sets CORS headers for allowed
// origins. An empty allow list admits every origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	methods := joinOr(s.cfg.CORS.AllowedMethods, defaultCORSMethods)
	headers := joinOr(s.cfg.CORS.AllowedHeaders, defaultCORSHeaders)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.isAllowedOrigin(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isAllowedOrigin(origin string) bool {
	allowed := s.cfg.CORS.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires a valid bearer token and stores its subject for
// the audit trail. It passes everything through when no JWT secret is set.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "missing bearer token")
			return
		}
		subject, err := ParseToken(s.secCfg.JWT.Secret, raw)
		if err != nil {
			s.logger.Debug("rejected bearer token", "error", err, "path", r.URL.Path)
			writeUnauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeySubject, subject)))
	})
}

func (s *Server) authEnabled() bool {
	return s.secCfg.JWT.Secret != ""
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}
