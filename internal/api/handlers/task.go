package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/orchestrator"
	"github.com/maumercado/task-queue-go/internal/queue"
	"github.com/maumercado/task-queue-go/internal/task"
)

// TaskHandler handles task submission, lookup, listing and cancellation.
type TaskHandler struct {
	orch *orchestrator.Orchestrator
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(orch *orchestrator.Orchestrator) *TaskHandler {
	return &TaskHandler{orch: orch}
}

// Create handles POST /tasks.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req task.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" && req.Command == "" {
		h.respondError(w, http.StatusBadRequest, "prompt or command is required")
		return
	}

	t := task.FromRequest(&req)
	if err := h.orch.Submit(t); err != nil {
		h.respondSubmitError(w, err)
		return
	}

	logger.Info().Str("task_id", t.ID).Str("priority", t.Priority.String()).Msg("task created")
	h.respondJSON(w, http.StatusCreated, t.ToResponse())
}

// CreateBatch handles POST /tasks/batch.
func (h *TaskHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []task.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		h.respondError(w, http.StatusBadRequest, "at least one task is required")
		return
	}

	tasks := make([]*task.Task, 0, len(reqs))
	for _, req := range reqs {
		if req.Prompt == "" && req.Command == "" {
			h.respondError(w, http.StatusBadRequest, "prompt or command is required for every task")
			return
		}
		tasks = append(tasks, task.FromRequest(&req))
	}

	if err := h.orch.SubmitBatch(tasks); err != nil {
		h.respondSubmitError(w, err)
		return
	}

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	h.respondJSON(w, http.StatusCreated, map[string]interface{}{"task_ids": ids})
}

// Get handles GET /tasks/{taskID}.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	t, ok := h.orch.Queue().Get(taskID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}
	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// List handles GET /tasks?state=....
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")

	snap := h.orch.Queue().Snapshot()
	out := make([]*task.TaskResponse, 0, len(snap))
	for _, t := range snap {
		if stateFilter != "" && t.State.String() != stateFilter {
			continue
		}
		out = append(out, t.ToResponse())
	}
	h.respondJSON(w, http.StatusOK, out)
}

// Cancel handles DELETE /tasks/{taskID}.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	ok, err := h.orch.RequestCancel(taskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to cancel task")
		h.respondError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (h *TaskHandler) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrTaskAlreadyExists):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrDependencyUnknown), errors.Is(err, queue.ErrCyclicDependency):
		h.respondError(w, http.StatusBadRequest, err.Error())
	default:
		logger.Error().Err(err).Msg("failed to submit task")
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// ErrorResponse is the JSON shape returned for any non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
