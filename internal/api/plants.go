package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/gray-logic-irrigation/internal/audit"
	"github.com/nerrad567/gray-logic-irrigation/internal/optimizer"
	"github.com/nerrad567/gray-logic-irrigation/internal/plant"
	"github.com/nerrad567/gray-logic-irrigation/internal/sensors"
)

// handleListPlants returns every stored plant profile.
func (s *Server) handleListPlants(w http.ResponseWriter, r *http.Request) {
	plants, err := s.plants.List(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list plants")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plants": plants, "count": len(plants)})
}

// handleCreatePlant stores a new plant profile.
func (s *Server) handleCreatePlant(w http.ResponseWriter, r *http.Request) {
	var p plant.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.plants.Create(r.Context(), &p); err != nil {
		writeDomainError(w, err, "failed to create plant")
		return
	}
	s.auditLog(r, audit.ActionCreate, audit.EntityPlant, p.ID, nil)
	writeJSON(w, http.StatusCreated, p)
}

// handleGetPlant returns one stored plant profile.
func (s *Server) handleGetPlant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}

	p, err := s.plants.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to get plant")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePutPlant replaces a plant profile, creating it if absent. The
// path id wins over any id in the body.
func (s *Server) handlePutPlant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}

	var p plant.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	p.ID = id

	err := s.plants.Update(r.Context(), &p)
	if errors.Is(err, sensors.ErrPlantNotFound) {
		if err = s.plants.Create(r.Context(), &p); err == nil {
			s.auditLog(r, audit.ActionCreate, audit.EntityPlant, id, nil)
			writeJSON(w, http.StatusCreated, p)
			return
		}
	}
	if err != nil {
		writeDomainError(w, err, "failed to save plant")
		return
	}

	s.auditLog(r, audit.ActionUpdate, audit.EntityPlant, id, nil)

	// Update does not read back created_at.
	if stored, getErr := s.plants.Get(r.Context(), id); getErr == nil {
		p = stored
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeletePlant removes a plant profile. Automations for the plant are
// left in place and fall back to the default band.
func (s *Server) handleDeletePlant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}

	if err := s.plants.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err, "failed to delete plant")
		return
	}
	s.auditLog(r, audit.ActionDelete, audit.EntityPlant, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleLatestReading returns the plant's newest sensor reading.
func (s *Server) handleLatestReading(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}
	if s.sensors == nil {
		writeUnavailable(w, "sensor data is not configured")
		return
	}

	reading, err := s.sensors.LatestReading(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to read sensors")
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

// handlePrediction returns whether the plant needs watering now.
func (s *Server) handlePrediction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}
	if s.predictions == nil {
		writeUnavailable(w, "predictions are not configured")
		return
	}

	pred, err := s.predictions.PredictIrrigationNeed(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to predict irrigation need")
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// handleAlerts returns the plant's current risk analysis.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}
	if s.warnings == nil {
		writeUnavailable(w, "warnings are not configured")
		return
	}

	analysis, err := s.warnings.AnalyzeAndAlert(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "failed to analyse plant")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleOptimize produces a schedule for the plant. An empty body uses the
// optimizer defaults. Provider failures come back as the fallback schedule
// with a 200; only an unknown algorithm is an error.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "plant")
	if !ok {
		return
	}
	if s.optimizer == nil {
		writeUnavailable(w, "optimizer is not configured")
		return
	}

	var opts optimizer.Options
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if opts.Horizon < 0 || opts.Horizon > optimizer.MaxHorizon {
		writeBadRequest(w, "horizon must be at most 30 days")
		return
	}

	res, err := s.optimizer.Optimize(r.Context(), id, opts)
	if err != nil {
		writeDomainError(w, err, "optimization failed")
		return
	}
	s.auditLog(r, audit.ActionOptimize, audit.EntityPlant, id, map[string]any{
		"algorithm": res.Algorithm,
		"fallback":  res.Fallback(),
	})
	writeJSON(w, http.StatusOK, res)
}

// handleListAlgorithms returns the registered optimization strategies.
func (s *Server) handleListAlgorithms(w http.ResponseWriter, _ *http.Request) {
	if s.optimizer == nil {
		writeUnavailable(w, "optimizer is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"algorithms": s.optimizer.Algorithms()})
}
