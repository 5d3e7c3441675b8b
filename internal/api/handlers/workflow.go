package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/maumercado/task-queue-go/internal/logger"
	"github.com/maumercado/task-queue-go/internal/workflow"
)

// WorkflowHandler handles workflow document execution requests.
type WorkflowHandler struct {
	exec *workflow.Executor
}

// NewWorkflowHandler creates a new workflow handler.
func NewWorkflowHandler(exec *workflow.Executor) *WorkflowHandler {
	return &WorkflowHandler{exec: exec}
}

// Execute handles POST /workflows/execute. The request body is the raw
// workflow YAML document.
func (h *WorkflowHandler) Execute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	doc, err := workflow.Parse(body)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.exec.Execute(r.Context(), doc)
	if err != nil {
		if errors.Is(err, workflow.ErrWorkflowInvalid) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Error().Err(err).Str("workflow", doc.Name).Msg("workflow execution failed")
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outcome := make(map[string]interface{}, len(result.Outcome))
	for name, t := range result.Outcome {
		outcome[name] = t.ToResponse()
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workflow": result.Name,
		"tasks":    outcome,
	})
}

func (h *WorkflowHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (h *WorkflowHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
