package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-irrigation/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped so a slow disk never stalls requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
func (s *Server) auditLog(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     subjectFrom(r.Context()),
		Source:     audit.SourceAPI,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", action,
			"entity_type", entityType,
		)
	}
}

// drainAuditLog writes queued entries serially until ctx is cancelled,
// then flushes whatever is still buffered.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns audit entries, newest first.
//
// Query parameters:
//   - action: create, update, delete, start, stop, irrigate, optimize
//   - entity_type: automation or plant
//   - entity_id, user_id: exact match
//   - since: RFC 3339 lower bound on created_at
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
