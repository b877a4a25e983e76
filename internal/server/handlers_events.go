package server

import (
	"net/http"
	"time"

	"github.com/jonathan/research-orchestrator/internal/types"
)

// ProgressEvent is the payload of a "progress" SSE event
type ProgressEvent struct {
	JobID    string       `json:"job_id"`
	Status   types.Status `json:"status"`
	Phase    types.Phase  `json:"current_phase"`
	Progress int          `json:"progress_percent"`
	Tasks    int          `json:"tasks,omitempty"`
	Finished int          `json:"tasks_finished,omitempty"`
}

// keepAliveEvery is how many idle polls pass between keep-alive comments
const keepAliveEvery = 15

// handleEvents streams job progress until the job is terminal or the
// client disconnects. State is re-read from the tracker on every poll.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last *ProgressEvent
	idle := 0
	for {
		event := progressEvent(job)
		if last == nil || *last != event {
			if err := sse.WriteEvent("progress", event); err != nil {
				return
			}
			last = &event
			idle = 0
		} else if idle++; idle%keepAliveEvery == 0 {
			if err := sse.WriteKeepAlive(); err != nil {
				return
			}
		}

		if job.Status.IsTerminal() {
			if job.Status == types.StatusFailed {
				msg := "failed"
				if job.Error != nil {
					msg = *job.Error
				}
				sse.WriteError(job.ID.String(), msg)
			} else {
				sse.WriteComplete(job.ID.String(), string(job.Status))
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err = s.service.GetStatus(ctx, job.ID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("event stream read failed", "job_id", last.JobID, "error", err)
				sse.WriteError(last.JobID, "failed to read job status")
			}
			return
		}
	}
}

func progressEvent(job *types.Job) ProgressEvent {
	event := ProgressEvent{
		JobID:    job.ID.String(),
		Status:   job.Status,
		Phase:    job.Phase,
		Progress: job.ProgressPercent,
		Tasks:    len(job.Tasks),
	}
	for i := range job.Tasks {
		if job.Tasks[i].Outcome.IsTerminal() {
			event.Finished++
		}
	}
	return event
}
