package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.orch.Status()
	body := map[string]any{
		"status": string(st.Status),
		"uptime": st.Uptime,
	}
	if st.Health != nil {
		body["health"] = st.Health
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Status: task.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	tasks, err := s.orch.ListTasks(opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// createTaskRequest is the POST /api/tasks body.
type createTaskRequest struct {
	Description        string   `json:"description"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	Workflow           string   `json:"workflow,omitempty"`
	Autonomy           string   `json:"autonomy,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	DependsOn          []string `json:"depends_on,omitempty"`
	MaxRetries         int      `json:"max_retries,omitempty"`
	Queue              bool     `json:"queue,omitempty"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}

	t, err := s.orch.CreateTask(orchestrator.CreateTaskOptions{
		Description:        req.Description,
		AcceptanceCriteria: req.AcceptanceCriteria,
		Workflow:           req.Workflow,
		Autonomy:           task.Autonomy(req.Autonomy),
		Priority:           task.Priority(req.Priority),
		DependsOn:          req.DependsOn,
		MaxRetries:         req.MaxRetries,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Queue {
		if t, err = s.orch.QueueTask(t.ID, t.Priority); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteTask(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	logs, err := s.orch.GetLogs(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.orch.CancelTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "cancelled": cancelled})
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.PauseTask(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// resumeTaskRequest optionally names the checkpoint to resume from.
type resumeTaskRequest struct {
	CheckpointID string `json:"checkpoint_id,omitempty"`
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	var req resumeTaskRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid JSON body: "+err.Error())
			return
		}
	}

	id := chi.URLParam(r, "id")
	resumed, err := s.orch.ResumeTask(r.Context(), id, req.CheckpointID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task_id": id, "resumed": resumed})
}

func (s *Server) handleListGates(w http.ResponseWriter, r *http.Request) {
	gates, err := s.orch.ListGates(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gates": gates})
}

// gateDecisionRequest carries the reviewer identity and optional note.
type gateDecisionRequest struct {
	Approver string `json:"approver"`
	Comment  string `json:"comment,omitempty"`
}

func (s *Server) handleApproveGate(w http.ResponseWriter, r *http.Request) {
	var req gateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	g, err := s.orch.ApproveGate(chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Approver, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleRejectGate(w http.ResponseWriter, r *http.Request) {
	var req gateDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body: "+err.Error())
		return
	}
	g, err := s.orch.RejectGate(chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Approver, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}
