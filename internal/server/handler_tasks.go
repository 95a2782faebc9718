package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mvasquez/taskgraph/internal/admission"
	"github.com/mvasquez/taskgraph/internal/store"
	"github.com/mvasquez/taskgraph/pkg/model"
)

type createTaskRequest struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	DurationMS   int64    `json:"duration_ms"`
	Dependencies []string `json:"dependencies"`
}

// handleCreateTask implements POST /tasks: admits a new task and returns
// its id and initial status, or one of the admission rejection kinds
// (conflict, missing dependency, cycle).
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.admitter == nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: "admission is not configured"})
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest,
			&model.APIError{Code: model.ErrValidation, Message: "request body must be valid JSON"})
		return
	}

	task, err := s.admitter.Admit(r.Context(), req.ID, req.Type, req.DurationMS, req.Dependencies)
	if err != nil {
		status, apiErr := admissionErrorResponse(err)
		respondError(w, reqID, status, apiErr)
		return
	}

	respondOK(w, reqID, model.Summary{ID: task.ID, Status: task.Status})
}

// admissionErrorResponse maps an Admit error onto an HTTP status and
// structured error code.
func admissionErrorResponse(err error) (int, *model.APIError) {
	switch {
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, &model.APIError{Code: model.ErrConflict, Message: err.Error()}
	case errors.Is(err, store.ErrMissingDependency):
		return http.StatusBadRequest, &model.APIError{Code: model.ErrValidation, Message: err.Error()}
	case errors.Is(err, admission.ErrCycle):
		return http.StatusBadRequest, &model.APIError{Code: model.ErrValidation, Message: err.Error()}
	case errors.Is(err, admission.ErrEmptyID):
		return http.StatusBadRequest, &model.APIError{Code: model.ErrValidation, Message: err.Error()}
	default:
		return http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()}
	}
}

// handleGetTask implements GET /tasks/{id}: the full task object.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if task == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, task)
}

// handleListTasks implements GET /tasks: an array of {id, status}.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	summaries := make([]model.Summary, len(tasks))
	for i, t := range tasks {
		summaries[i] = model.Summary{ID: t.ID, Status: t.Status}
	}
	respondOK(w, reqID, summaries)
}
