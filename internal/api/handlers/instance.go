package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/pool"
	"github.com/maumercado/task-queue-go/internal/worker"
)

// InstanceHandler handles worker instance pool management requests.
type InstanceHandler struct {
	orch *orchestrator.Orchestrator
}

// NewInstanceHandler creates a new instance handler.
func NewInstanceHandler(orch *orchestrator.Orchestrator) *InstanceHandler {
	return &InstanceHandler{orch: orch}
}

type spawnRequest struct {
	Count            int    `json:"count"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// WorkerView is the REST-facing view of a worker instance.
type WorkerView struct {
	ID               string `json:"id"`
	State            string `json:"state"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

func toWorkerView(w *worker.Worker) WorkerView {
	var state string
	switch w.State() {
	case worker.StateStarting:
		state = "starting"
	case worker.StateIdle:
		state = "idle"
	case worker.StateBusy:
		state = "busy"
	case worker.StateUnhealthy:
		state = "unhealthy"
	case worker.StateTerminated:
		state = "terminated"
	}
	return WorkerView{ID: w.ID, State: state, WorkingDirectory: w.WorkingDirectory()}
}

// Spawn handles POST /instances/spawn.
func (h *InstanceHandler) Spawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Count <= 0 {
		h.respondError(w, http.StatusBadRequest, "count must be positive")
		return
	}

	workers, err := h.orch.Pool().Spawn(r.Context(), req.Count)
	if err != nil {
		if err == pool.ErrCapacityExceeded {
			h.respondError(w, http.StatusConflict, "spawning would exceed max_instances")
			return
		}
		logger.Error().Err(err).Msg("failed to spawn instances")
		h.respondError(w, http.StatusInternalServerError, "failed to spawn instances")
		return
	}

	ids := make([]string, len(workers))
	for i, wk := range workers {
		ids[i] = wk.ID
	}
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{"worker_ids": ids})
}

// List handles GET /instances.
func (h *InstanceHandler) List(w http.ResponseWriter, r *http.Request) {
	workers := h.orch.Pool().Workers()
	out := make([]WorkerView, len(workers))
	for i, wk := range workers {
		out[i] = toWorkerView(wk)
	}
	h.respondJSON(w, http.StatusOK, out)
}

// Get handles GET /instances/{id}.
func (h *InstanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wk, ok := h.orch.Pool().Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "instance not found")
		return
	}
	h.respondJSON(w, http.StatusOK, toWorkerView(wk))
}

// Terminate handles DELETE /instances/{id}.
func (h *InstanceHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.orch.Pool().Terminate(id, 5*time.Second)
	if err != nil {
		if err == pool.ErrWorkerNotFound {
			h.respondError(w, http.StatusNotFound, "instance not found")
			return
		}
		logger.Error().Err(err).Str("worker_id", id).Msg("failed to terminate instance")
		h.respondError(w, http.StatusInternalServerError, "failed to terminate instance")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]bool{"terminated": true})
}

type scaleRequest struct {
	Target int `json:"target"`
}

// Scale handles POST /instances/scale.
func (h *InstanceHandler) Scale(w http.ResponseWriter, r *http.Request) {
	var req scaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target < 0 {
		h.respondError(w, http.StatusBadRequest, "target must be non-negative")
		return
	}

	if err := h.orch.Pool().ScaleTo(r.Context(), req.Target); err != nil {
		logger.Error().Err(err).Int("target", req.Target).Msg("scale_to failed")
	}
	h.respondJSON(w, http.StatusOK, map[string]int{"current": h.orch.Pool().Size()})
}

// Status handles GET /status.
func (h *InstanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	workers := h.orch.Pool().Workers()
	counts := map[string]int{"total": len(workers), "idle": 0, "busy": 0, "unhealthy": 0}
	for _, wk := range workers {
		switch wk.State() {
		case worker.StateIdle:
			counts["idle"]++
		case worker.StateBusy:
			counts["busy"]++
		case worker.StateUnhealthy:
			counts["unhealthy"]++
		}
	}

	tasksByState := map[string]int{}
	for _, t := range h.orch.Queue().Snapshot() {
		tasksByState[t.State.String()]++
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"instances": counts,
		"tasks":     tasksByState,
	})
}

// Health handles GET /health.
func (h *InstanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *InstanceHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *InstanceHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
