// Package handlers provides HTTP handlers for calibration uploads and
// snapshot queries.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/qerplab/qerp/internal/events"
	"github.com/qerplab/qerp/internal/modules/calibration"
)

// Handler serves the calibration API.
type Handler struct {
	service *calibration.Service
	bus     *events.Bus
	log     zerolog.Logger
}

// NewHandler creates a new calibration handler.
func NewHandler(service *calibration.Service, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		bus:     bus,
		log:     log.With().Str("handler", "calibration").Logger(),
	}
}

// RegisterRoutes registers all calibration routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/calibration", func(r chi.Router) {
		r.Post("/", h.HandleUpload)
		r.Get("/", h.HandleListSnapshots)
		r.Get("/{backend}", h.HandleGetSnapshot)
	})
}

// UploadRequest is the POST /api/calibration payload. Matrices without a
// measurement timestamp are stamped server-side; the sector is optional.
type UploadRequest struct {
	Backend  string                        `json:"backend"`
	Matrices []calibration.ConfusionMatrix `json:"matrices"`
	Sector   *calibration.SymmetrySector   `json:"sector,omitempty"`
}

// HandleUpload stores a calibration snapshot for one backend.
// POST /api/calibration
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Upload(req.Backend, req.Matrices, req.Sector); err != nil {
		h.log.Warn().Err(err).Str("backend", req.Backend).Msg("Calibration upload rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.bus.Emit(events.CalibrationUpdated, "calibration", map[string]interface{}{
		"backend": req.Backend,
		"qubits":  len(req.Matrices),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "updated",
		"backend": req.Backend,
		"qubits":  len(req.Matrices),
	})
}

// HandleListSnapshots returns the calibration of every known backend.
// GET /api/calibration
func (h *Handler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.Snapshots()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list calibration snapshots")
		http.Error(w, "Failed to list calibration snapshots", http.StatusInternalServerError)
		return
	}
	if snapshots == nil {
		snapshots = []calibration.BackendCalibration{}
	}

	writeJSON(w, http.StatusOK, snapshots)
}

// HandleGetSnapshot returns one backend's calibration. A backend nothing has
// been uploaded for is a 404, not an empty snapshot.
// GET /api/calibration/{backend}
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	backend := chi.URLParam(r, "backend")

	snap, err := h.service.Snapshot(backend)
	if err != nil {
		h.log.Error().Err(err).Str("backend", backend).Msg("Failed to fetch calibration snapshot")
		http.Error(w, "Failed to fetch calibration snapshot", http.StatusInternalServerError)
		return
	}
	if len(snap.Matrices) == 0 && snap.Sector == nil {
		http.Error(w, "No calibration data for backend", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
