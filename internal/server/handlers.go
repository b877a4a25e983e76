package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/research-orchestrator/internal/orchestrator"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

// maxListLimit caps GET /research
const maxListLimit = 100

// SubmitRequest represents the request body for POST /research
type SubmitRequest struct {
	Idea string `json:"idea" validate:"required,min=5,max=2000"`
}

// ReportResponse is the public shape of a finished report
type ReportResponse struct {
	Summary     string            `json:"summary"`
	KeyFindings []string          `json:"key_findings"`
	Details     map[string]string `json:"details"`
}

// JobResponse represents a job snapshot
type JobResponse struct {
	JobID          string          `json:"job_id"`
	Status         types.Status    `json:"status"`
	Progress       int             `json:"progress_percent"`
	Phase          types.Phase     `json:"current_phase"`
	Description    *string         `json:"description,omitempty"`
	Report         *ReportResponse `json:"report,omitempty"`
	ReportReviewed *bool           `json:"report_reviewed,omitempty"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at,omitempty"`
}

// TaskResponse summarizes one research task
type TaskResponse struct {
	TaskID                string           `json:"task_id"`
	Ordinal               int              `json:"ordinal"`
	Description           string           `json:"description"`
	Hypothesis            *string          `json:"hypothesis,omitempty"`
	Status                types.TaskStatus `json:"status"`
	Outcome               types.Outcome    `json:"outcome,omitempty"`
	Attempts              int              `json:"attempts"`
	MaxAttempts           int              `json:"max_attempts"`
	EvidenceCount         int              `json:"evidence_count"`
	IncludedEvidence      int              `json:"included_evidence"`
	ContradictingEvidence int              `json:"contradicting_evidence"`
	Critiques             []types.Critique `json:"critiques"`
}

// TaskListResponse represents the response for GET /research/{id}/tasks
type TaskListResponse struct {
	JobID string         `json:"job_id"`
	Tasks []TaskResponse `json:"tasks"`
}

// JobListResponse represents the response for GET /research
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func toJobResponse(job *types.Job) JobResponse {
	resp := JobResponse{
		JobID:          job.ID.String(),
		Status:         job.Status,
		Progress:       job.ProgressPercent,
		Phase:          job.Phase,
		Description:    job.Description,
		ReportReviewed: job.ReportReviewed,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
	}
	if !job.UpdatedAt.IsZero() {
		resp.UpdatedAt = job.UpdatedAt.Format(time.RFC3339)
	}
	if job.Report != nil {
		resp.Report = &ReportResponse{
			Summary:     job.Report.Summary,
			KeyFindings: job.Report.KeyFindings,
			Details:     job.Report.Details,
		}
	}
	return resp
}

func toTaskResponse(task *types.ResearchTask) TaskResponse {
	resp := TaskResponse{
		TaskID:        task.ID.String(),
		Ordinal:       task.Ordinal,
		Description:   task.Description,
		Hypothesis:    task.Hypothesis,
		Status:        task.Status,
		Outcome:       task.Outcome,
		Attempts:      task.Attempts,
		MaxAttempts:   task.MaxAttempts,
		EvidenceCount: len(task.Evidence),
		Critiques:     task.Critiques,
	}
	for _, e := range task.Evidence {
		if !e.Excluded {
			resp.IncludedEvidence++
		}
		if e.Stance == types.StanceContradicting {
			resp.ContradictingEvidence++
		}
	}
	if resp.Critiques == nil {
		resp.Critiques = []types.Critique{}
	}
	return resp
}

// handleSubmit creates a job and schedules it
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.serviceError(w, validationError(err))
		return
	}

	job, err := s.service.SubmitAndStart(r.Context(), req.Idea, orchestrator.SubmitOptions{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.logger.Info("research job accepted", "job_id", job.ID)
	s.jsonResponse(w, http.StatusAccepted, toJobResponse(job))
}

// handleGetJob returns a job snapshot
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, toJobResponse(job))
}

// handleListTasks returns the task snapshots of a job
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	tasks := make([]TaskResponse, len(job.Tasks))
	for i := range job.Tasks {
		tasks[i] = toTaskResponse(&job.Tasks[i])
	}
	s.jsonResponse(w, http.StatusOK, TaskListResponse{JobID: job.ID.String(), Tasks: tasks})
}

// handleCancel requests cancellation
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return
	}
	if err := s.service.Cancel(r.Context(), id); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"job_id": id.String(),
		"status": "cancel_requested",
	})
}

// handleListJobs returns recent jobs, optionally filtered by status
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := tracker.JobFilter{Limit: 20}

	if v := r.URL.Query().Get("status"); v != "" {
		status := types.Status(v)
		if !status.IsValid() {
			s.serviceError(w, &ErrValidation{Field: "status", Message: "unknown status " + v})
			return
		}
		filter.Status = status
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			s.serviceError(w, &ErrValidation{Field: "limit", Message: "must be a positive integer"})
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	jobs, err := s.service.ListJobs(r.Context(), filter)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	resp := JobListResponse{Jobs: make([]JobResponse, len(jobs)), Count: len(jobs)}
	for i := range jobs {
		resp.Jobs[i] = toJobResponse(&jobs[i])
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (*types.Job, bool) {
	id, ok := s.parseJobID(w, r)
	if !ok {
		return nil, false
	}
	job, err := s.service.GetStatus(r.Context(), id)
	if err != nil {
		s.serviceError(w, err)
		return nil, false
	}
	if job == nil {
		s.serviceError(w, &ErrJobNotFound{ID: id.String()})
		return nil, false
	}
	return job, true
}
