package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

const jobColumns = `id, idea, description, status, phase, progress_percent, report,
	report_reviewed, error, cancel_requested, idempotency_key, created_at, updated_at`

// CreateJob inserts a new job record
func (db *DB) CreateJob(ctx context.Context, job *types.Job) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO research_jobs (id, idea, status, phase, progress_percent, idempotency_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.Idea, job.Status, job.Phase, job.ProgressPercent, job.IdempotencyKey, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob applies a partial update under a row lock. The state machine
// rules live in types.Job.Apply; the SQL guards repeat the terminal and
// progress invariants so concurrent writers cannot bypass them.
func (db *DB) UpdateJob(ctx context.Context, jobID uuid.UUID, update types.JobUpdate) (*types.Job, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &tracker.NotFoundError{Kind: "job", ID: jobID}
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	if err := job.Apply(update, db.now()); err != nil {
		return nil, err
	}

	var reportJSON []byte
	if job.Report != nil {
		reportJSON, err = json.Marshal(job.Report)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal report: %w", err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE research_jobs
		 SET status = $1, phase = $2, progress_percent = GREATEST(progress_percent, $3),
		     description = $4, report = $5, report_reviewed = $6, error = $7,
		     cancel_requested = cancel_requested OR $8, updated_at = $9
		 WHERE id = $10 AND status NOT IN ('completed', 'failed')`,
		job.Status, job.Phase, job.ProgressPercent, job.Description, reportJSON,
		job.ReportReviewed, job.Error, job.CancelRequested, job.UpdatedAt, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrJobTerminal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}
	return job, nil
}

// ReadJob returns a job with nested task snapshots
func (db *DB) ReadJob(ctx context.Context, jobID uuid.UUID) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM research_jobs WHERE id = $1`, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &tracker.NotFoundError{Kind: "job", ID: jobID}
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	tasks, err := db.listTasks(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Tasks = tasks
	return job, nil
}

// FindJobByIdempotencyKey returns the newest job submitted with key since the cutoff
func (db *DB) FindJobByIdempotencyKey(ctx context.Context, key string, since time.Time) (*types.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM research_jobs
		 WHERE idempotency_key = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT 1`,
		key, since,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find job by idempotency key: %w", err)
	}
	return job, nil
}

// ListJobs retrieves recent jobs with optional filters
func (db *DB) ListJobs(ctx context.Context, filter tracker.JobFilter) ([]types.Job, error) {
	if filter.Limit == 0 {
		filter.Limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM research_jobs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filter.Status)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filter.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// DeleteJob deletes a job and its tasks (via cascade). Knowledge chunks are kept.
func (db *DB) DeleteJob(ctx context.Context, jobID uuid.UUID) error {
	result, err := db.pool.Exec(ctx, `DELETE FROM research_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return &tracker.NotFoundError{Kind: "job", ID: jobID}
	}
	return nil
}

func scanJob(row pgx.Row) (*types.Job, error) {
	var job types.Job
	var reportJSON []byte
	err := row.Scan(&job.ID, &job.Idea, &job.Description, &job.Status, &job.Phase,
		&job.ProgressPercent, &reportJSON, &job.ReportReviewed, &job.Error,
		&job.CancelRequested, &job.IdempotencyKey, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(reportJSON) > 0 {
		var report types.Report
		if err := json.Unmarshal(reportJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		job.Report = &report
	}
	return &job, nil
}
