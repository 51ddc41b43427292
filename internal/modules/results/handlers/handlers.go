// Package handlers provides HTTP handlers for the run lifecycle API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/domain"
	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/results"
)

// defaultListLimit bounds GET /runs responses when no limit is given.
const defaultListLimit = 50

// RunTrigger wakes the work processor after a submission so queued runs
// start without waiting for the next poll tick. Implemented by
// work.Processor.
type RunTrigger interface {
	Trigger()
}

// Handler serves run submission, listing, results, traces and pathway
// profiles.
type Handler struct {
	service *results.Service
	bus     *events.Bus
	trigger RunTrigger
	log     zerolog.Logger
}

// NewHandler creates a new runs handler. trigger may be nil in tests.
func NewHandler(service *results.Service, bus *events.Bus, trigger RunTrigger, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		bus:     bus,
		trigger: trigger,
		log:     log.With().Str("handler", "runs").Logger(),
	}
}

// RegisterRoutes registers all run routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.HandleSubmitRun)
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", h.HandleGetRun)
		r.Get("/{id}/result", h.HandleGetResult)
		r.Get("/{id}/trace", h.HandleGetTrace)
	})
	r.Get("/pathways/{pathwayID}/profile", h.HandlePathwayProfile)
}

// SubmitRunRequest is the POST /api/runs payload. Bundle is the
// msgpack-encoded active-space problem; encoding/json carries it as base64.
type SubmitRunRequest struct {
	Config      domain.RunConfig `json:"config"`
	Bundle      []byte           `json:"bundle"`
	Description string           `json:"description,omitempty"`
}

// HandleSubmitRun validates and queues a new run, then pokes the processor.
// POST /api/runs
func (h *Handler) HandleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req SubmitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Bundle) == 0 {
		http.Error(w, "Tensor bundle is required", http.StatusBadRequest)
		return
	}

	run, err := h.service.SubmitRun(req.Config, req.Bundle, req.Description)
	if err != nil {
		h.log.Warn().Err(err).Msg("Run submission rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := map[string]interface{}{
		"run_id": run.ID,
		"status": string(run.Status),
	}
	if run.PathwayID != "" {
		data["pathway_id"] = run.PathwayID
		data["image_index"] = run.ImageIndex
	}
	h.bus.Emit(events.RunQueued, "results", data)

	if h.trigger != nil {
		h.trigger.Trigger()
	}

	writeJSON(w, http.StatusAccepted, run)
}

// HandleListRuns returns the newest runs. The optional limit query parameter
// bounds the page size.
// GET /api/runs?limit=N
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []domain.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}

// HandleGetRun returns one run by id.
// GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.service.GetRun(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to fetch run")
		http.Error(w, "Failed to fetch run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// HandleGetResult returns a run's final result with its trace. Runs that
// have not reached a terminal state yet have no result row.
// GET /api/runs/{id}/result
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.service.GetResult(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Result not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to fetch result")
		http.Error(w, "Failed to fetch result", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// HandleGetTrace returns a run's convergence trace, one record per ADAPT
// iteration. Available while the run is still in flight.
// GET /api/runs/{id}/trace
func (h *Handler) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The trace of an unknown run and the trace of a run with no completed
	// iterations are both empty. Check the run exists so the former is a 404.
	if _, err := h.service.GetRun(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to fetch run")
		http.Error(w, "Failed to fetch trace", http.StatusInternalServerError)
		return
	}

	trace, err := h.service.GetTrace(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to fetch trace")
		http.Error(w, "Failed to fetch trace", http.StatusInternalServerError)
		return
	}
	if trace == nil {
		trace = []domain.IterationRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id": id,
		"trace":  trace,
	})
}

// HandlePathwayProfile returns the energy profile of a reaction pathway,
// one point per image ordered along the reaction coordinate.
// GET /api/pathways/{pathwayID}/profile
func (h *Handler) HandlePathwayProfile(w http.ResponseWriter, r *http.Request) {
	pathwayID := chi.URLParam(r, "pathwayID")

	points, err := h.service.PathwayProfile(pathwayID)
	if err != nil {
		h.log.Error().Err(err).Str("pathway_id", pathwayID).Msg("Failed to fetch pathway profile")
		http.Error(w, "Failed to fetch pathway profile", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []domain.PathwayPoint{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pathway_id": pathwayID,
		"points":     points,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
