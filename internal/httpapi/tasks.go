package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mvellano/enhancerd/internal/queue"
)

type createTaskRequest struct {
	Owner        string       `json:"owner"`
	Kind         string       `json:"kind"`
	InputRef     string       `json:"input_ref"`
	Params       queue.Params `json:"params"`
	NotifyTarget string       `json:"notify_target"`
}

type createTaskResponse struct {
	TaskID    string       `json:"task_id"`
	Status    queue.Status `json:"status"`
	Kind      queue.Kind   `json:"kind"`
	CreatedAt string       `json:"created_at"`
}

type cancelAllRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	task, err := s.queue.Submit(req.Owner, queue.Kind(strings.TrimSpace(req.Kind)), req.InputRef, req.Params, req.NotifyTarget)
	if err != nil {
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, "invalid_task", verr.Error())
			return
		}
		var cerr *queue.CapacityError
		if errors.As(err, &cerr) {
			respondError(w, http.StatusServiceUnavailable, "no_capacity", cerr.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "task_create_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, createTaskResponse{
		TaskID:    task.ID,
		Status:    task.Status,
		Kind:      task.Kind,
		CreatedAt: task.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	task, err := s.queue.GetTask(taskID)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	status := queue.Status(strings.TrimSpace(r.URL.Query().Get("status")))

	if status != "" {
		switch status {
		case queue.StatusPending, queue.StatusRunning, queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled:
		default:
			respondError(w, http.StatusBadRequest, "invalid_request", "unknown status filter")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"tasks": s.queue.ListTasks(owner, status),
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	if _, err := s.queue.GetTask(taskID); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "task_cancel_failed", err.Error())
		return
	}

	cancelled := s.queue.Cancel(taskID)
	respondJSON(w, http.StatusOK, map[string]any{
		"task_id":   taskID,
		"cancelled": cancelled,
	})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	var req cancelAllRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "owner is required")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"owner":     owner,
		"cancelled": s.queue.CancelAll(owner),
	})
}

func (s *Server) handleQueueInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.queue.Info())
}
