package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-irrigation/internal/audit"
	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
)

// maxIDLen limits path identifiers to prevent oversized lookups.
const maxIDLen = 100

// createAutomationRequest is the body of POST /automations.
type createAutomationRequest struct {
	PlantID string `json:"plant_id"`
	automation.RuleConfig
}

// irrigateRequest is the body of POST /automations/{id}/irrigate.
type irrigateRequest struct {
	Amount float64 `json:"amount"`
}

// pathID reads and bounds the {id} URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, what string) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxIDLen {
		writeBadRequest(w, "invalid "+what+" ID")
		return "", false
	}
	return id, true
}

// handleListAutomations returns all rules, optionally filtered.
//
// Query parameters:
//   - plant_id: filter by plant
//   - mode: filter by mode (smart, scheduled, sensor_based)
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	plantID := r.URL.Query().Get("plant_id")
	mode := automation.Mode(r.URL.Query().Get("mode"))
	if len(plantID) > maxIDLen {
		writeBadRequest(w, "plant_id exceeds maximum length")
		return
	}

	rules := s.engine.GetAllAutomations()
	filtered := make([]automation.Rule, 0, len(rules))
	for _, rule := range rules {
		if plantID != "" && rule.PlantID != plantID {
			continue
		}
		if mode != "" && rule.Mode != mode {
			continue
		}
		filtered = append(filtered, rule)
	}
	writeJSON(w, http.StatusOK, map[string]any{"automations": filtered, "count": len(filtered)})
}

// handleCreateAutomation validates and creates a rule, starting it when
// the body sets enabled.
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var req createAutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PlantID) == "" {
		writeBadRequest(w, "plant_id is required")
		return
	}

	res, err := s.engine.SetupAutomation(r.Context(), req.PlantID, req.RuleConfig)
	if err != nil {
		writeDomainError(w, err, "failed to create automation")
		return
	}

	s.logger.Info("automation created via API", "rule_id", res.RuleID, "by", subjectFrom(r.Context()))
	s.auditLog(r, audit.ActionCreate, audit.EntityAutomation, res.RuleID, map[string]any{
		"plant_id": req.PlantID,
		"mode":     string(res.Rule.Mode),
		"started":  res.Started,
	})
	writeJSON(w, http.StatusCreated, res)
}

// handleGetAutomation returns one rule.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}
	for _, rule := range s.engine.GetAllAutomations() {
		if rule.ID == id {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeNotFound(w, "automation not found")
}

// handleUpdateAutomation merges a partial configuration into a rule.
func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	var upd automation.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rule, err := s.engine.UpdateAutomationConfig(r.Context(), id, upd)
	if err != nil {
		writeDomainError(w, err, "failed to update automation")
		return
	}
	s.auditLog(r, audit.ActionUpdate, audit.EntityAutomation, id, nil)
	writeJSON(w, http.StatusOK, rule)
}

// handleDeleteAutomation stops and removes a rule.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	if err := s.engine.DeleteAutomation(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to delete automation")
		return
	}

	s.logger.Info("automation deleted via API", "rule_id", id, "by", subjectFrom(r.Context()))
	s.auditLog(r, audit.ActionDelete, audit.EntityAutomation, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleStartAutomation starts a rule's loop. A rule that cannot start is
// reported with its recorded error.
func (s *Server) handleStartAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	if !s.engine.StartAutomation(r.Context(), id) {
		st := s.engine.GetAutomationStatus(id)
		if st.Status == automation.StatusNotFound {
			writeNotFound(w, "automation not found")
			return
		}
		writeError(w, http.StatusConflict, ErrCodeConflict, "automation could not be started: "+st.LastError)
		return
	}
	s.auditLog(r, audit.ActionStart, audit.EntityAutomation, id, nil)
	writeJSON(w, http.StatusOK, s.engine.GetAutomationStatus(id))
}

// handleStopAutomation stops and disables a running rule.
func (s *Server) handleStopAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	if !s.engine.StopAutomation(id) {
		if s.engine.GetAutomationStatus(id).Status == automation.StatusNotFound {
			writeNotFound(w, "automation not found")
			return
		}
		writeError(w, http.StatusConflict, ErrCodeConflict, "automation is not running")
		return
	}
	s.auditLog(r, audit.ActionStop, audit.EntityAutomation, id, nil)
	writeJSON(w, http.StatusOK, s.engine.GetAutomationStatus(id))
}

// handleIrrigate runs one manual irrigation through the rule's safety
// limits. Blocked and failed attempts are 200 responses whose body says so;
// only unknown or stopped rules are errors.
func (s *Server) handleIrrigate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	var req irrigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Amount <= 0 {
		writeBadRequest(w, "amount must be positive")
		return
	}

	res, err := s.engine.ExecuteIrrigation(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, err, "failed to execute irrigation")
		return
	}

	s.logger.Info("manual irrigation",
		"rule_id", id,
		"amount", req.Amount,
		"success", res.Success,
		"blocked", res.Blocked,
		"by", subjectFrom(r.Context()),
	)
	details := map[string]any{
		"amount":  req.Amount,
		"success": res.Success,
		"blocked": res.Blocked,
	}
	if res.Limit != "" {
		details["limit"] = res.Limit
	}
	s.auditLog(r, audit.ActionIrrigate, audit.EntityAutomation, id, details)
	writeJSON(w, http.StatusOK, res)
}

// handleAutomationStatus returns a rule's runtime status.
func (s *Server) handleAutomationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	st := s.engine.GetAutomationStatus(id)
	if st.Status == automation.StatusNotFound {
		writeNotFound(w, "automation not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleAutomationHistory returns a rule's recent executions, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50)
func (s *Server) handleAutomationHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	if s.engine.GetAutomationStatus(id).Status == automation.StatusNotFound {
		writeNotFound(w, "automation not found")
		return
	}
	entries := s.engine.GetAutomationHistory(id, limit)
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// handleAllHistory returns recent executions across every rule.
func (s *Server) handleAllHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries := s.engine.GetAutomationHistory("", limit)
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// handleAutomationStatistics returns a rule's execution summary.
func (s *Server) handleAutomationStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	report, err := s.engine.GetAutomationStatistics(id)
	if err != nil {
		writeDomainError(w, err, "failed to compute statistics")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseLimit reads the optional ?limit= parameter. Zero means the default.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeBadRequest(w, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
