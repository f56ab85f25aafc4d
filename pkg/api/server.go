package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ksachdeva/probability/pkg/logging"
	"github.com/ksachdeva/probability/pkg/mcmc"
	"github.com/ksachdeva/probability/pkg/models"
	"github.com/ksachdeva/probability/pkg/ratelimit"
	"github.com/ksachdeva/probability/pkg/store"
)

// Handler serves the run management API
type Handler struct {
	store   store.Store
	logger  *logging.Logger
	limiter *ratelimit.Limiter
}

// NewHandler creates a new API handler
func NewHandler(s store.Store, logger *logging.Logger) *Handler {
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// SetRateLimiter enables per-client rate limiting on submissions
func (h *Handler) SetRateLimiter(l *ratelimit.Limiter) {
	h.limiter = l
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Register specific routes before parameterized routes
	r.HandleFunc("/runs", h.CreateRun).Methods("POST")
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	r.HandleFunc("/runs/{id}", h.CancelRun).Methods("DELETE")
	r.HandleFunc("/runs/{id}/samples", h.GetSamples).Methods("GET")

	r.HandleFunc("/targets", h.ListTargets).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// CreateRun handles run submission
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow(ratelimit.IPKeyFunc(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := mcmc.TargetByName(req.Spec.Target); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run := &models.Run{
		ID:        uuid.New().String(),
		Name:      req.Name,
		Spec:      req.Spec,
		Status:    models.RunStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreateRun(run); err != nil {
		h.logger.Error("Failed to create run", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.logger.Info("Run submitted", map[string]interface{}{
		"run_id": run.ID,
		"target": run.Spec.Target,
		"draws":  run.Spec.NumResults,
	})

	writeJSON(w, http.StatusCreated, run)
}

// ListRuns lists runs, optionally filtered by ?status=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	runs, err := h.store.ListRuns(status)
	if err != nil {
		h.logger.Error("Failed to list runs", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns a single run by ID
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.store.GetRun(id)
	if err == store.ErrRunNotFound {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get run", map[string]interface{}{"run_id": id, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// CancelRun cancels a queued or running run
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.store.GetRun(id)
	if err == store.ErrRunNotFound {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	if !models.CanCancel(run.Status) {
		writeError(w, http.StatusConflict, "run is already in state "+string(run.Status))
		return
	}

	if err := h.store.UpdateRunStatus(id, models.RunStatusCanceled, "canceled by user"); err != nil {
		h.logger.Error("Failed to cancel run", map[string]interface{}{"run_id": id, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}

	h.logger.Info("Run canceled", map[string]interface{}{"run_id": id})

	run, err = h.store.GetRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetSamples returns a page of a run's surfaced draws
// Query params: offset (default 0), limit (default 100, 0 means all)
func (h *Handler) GetSamples(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.store.GetRun(id); err == store.ErrRunNotFound {
		writeError(w, http.StatusNotFound, "run not found")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	offset := 0
	limit := 100
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	samples, err := h.store.GetSamples(id, offset, limit)
	if err != nil {
		h.logger.Error("Failed to get samples", map[string]interface{}{"run_id": id, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to get samples")
		return
	}

	total, err := h.store.CountSamples(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count samples")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  id,
		"offset":  offset,
		"limit":   limit,
		"total":   total,
		"samples": samples,
	})
}

// ListTargets returns the names of the built-in target distributions
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"targets": mcmc.TargetNames()})
}

// Health handles health check requests
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
