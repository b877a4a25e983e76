package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ingest chunks texts into the knowledge store in the background.
// Failures are logged and never touch job state.
func (o *Orchestrator) ingest(jobID uuid.UUID, texts []string) {
	if o.knowledge == nil || len(texts) == 0 {
		return
	}

	o.ingesting.Add(1)
	go func() {
		defer o.ingesting.Done()

		timeout := o.cfg.IngestTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := o.knowledge.Ingest(ctx, jobID, texts); err != nil {
			o.logger.Warn("knowledge ingestion failed", "job_id", jobID, "chunks", len(texts), "error", err)
			return
		}
		o.logger.Debug("knowledge ingested", "job_id", jobID, "chunks", len(texts))
	}()
}
