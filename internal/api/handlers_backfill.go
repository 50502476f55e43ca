package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/user/analytics-ingest/internal/errs"
)

type startBackfillRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	LookbackDays  int    `json:"lookback_days"`
	ChunkSizeDays int    `json:"chunk_size_days"`
}

func (s *Server) handleBackfillStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req startBackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WorkspaceID == "" {
		s.jsonError(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	taskID, err := s.backfill.StartBackfill(r.Context(), req.WorkspaceID, req.LookbackDays, req.ChunkSizeDays)
	if err != nil {
		if errors.Is(err, errs.ErrConflictingTask) {
			s.jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, map[string]string{"task_id": taskID}, http.StatusAccepted)
}

func (s *Server) handleBackfillCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		s.jsonError(w, "task_id is required", http.StatusBadRequest)
		return
	}

	if err := s.backfill.CancelTask(r.Context(), taskID); err != nil {
		if errors.Is(err, errs.ErrAlreadyTerminal) {
			s.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.jsonResponse(w, map[string]bool{"success": true}, http.StatusOK)
}

func (s *Server) handleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		s.jsonError(w, "task_id is required", http.StatusBadRequest)
		return
	}
	progress, err := s.backfill.GetTaskStatus(r.Context(), taskID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.jsonResponse(w, progress, http.StatusOK)
}

func (s *Server) handleBackfillList(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		s.jsonError(w, "workspace_id is required", http.StatusBadRequest)
		return
	}
	tasks, err := s.backfill.ListTasks(r.Context(), workspaceID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, tasks, http.StatusOK)
}

func (s *Server) handleBackfillSummary(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		s.jsonError(w, "workspace_id is required", http.StatusBadRequest)
		return
	}
	summary, err := s.backfill.GetBackfillSummary(r.Context(), workspaceID)
	if err != nil {
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, summary, http.StatusOK)
}
