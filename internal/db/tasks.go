package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/research-orchestrator/internal/tracker"
	"github.com/jonathan/research-orchestrator/internal/types"
)

const taskColumns = `id, job_id, ordinal, description, hypothesis, attempts, max_attempts,
	outcome, status, created_at, updated_at`

// terminalOutcomes is the SQL list used by guarded updates
const terminalOutcomes = `('approved', 'exhausted')`

// CreateTasks inserts the planned tasks of a job in one batch
func (db *DB) CreateTasks(ctx context.Context, tasks []types.ResearchTask) error {
	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(
			`INSERT INTO research_tasks (id, job_id, ordinal, description, attempts, max_attempts, outcome, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.JobID, t.Ordinal, t.Description, t.Attempts, t.MaxAttempts, t.Outcome, t.Status, t.CreatedAt, t.UpdatedAt,
		)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to create tasks: %w", err)
	}
	return nil
}

// UpdateTask applies a partial update under a row lock. A terminal
// outcome is never overwritten.
func (db *DB) UpdateTask(ctx context.Context, taskID uuid.UUID, update types.TaskUpdate) (*types.ResearchTask, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	task, err := scanTask(tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM research_tasks WHERE id = $1 FOR UPDATE`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &tracker.NotFoundError{Kind: "task", ID: taskID}
		}
		return nil, fmt.Errorf("failed to lock task: %w", err)
	}

	if err := task.Apply(update, db.now()); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE research_tasks
		 SET hypothesis = $1, attempts = GREATEST(attempts, $2), outcome = $3, status = $4, updated_at = $5
		 WHERE id = $6 AND outcome NOT IN `+terminalOutcomes,
		task.Hypothesis, task.Attempts, task.Outcome, task.Status, task.UpdatedAt, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, types.ErrTaskTerminal
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit task update: %w", err)
	}

	if err := db.loadTaskHistory(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// ReadTask returns a task with its evidence and critique history
func (db *DB) ReadTask(ctx context.Context, taskID uuid.UUID) (*types.ResearchTask, error) {
	task, err := scanTask(db.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM research_tasks WHERE id = $1`, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &tracker.NotFoundError{Kind: "task", ID: taskID}
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if err := db.loadTaskHistory(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// AppendEvidence inserts evidence rows for a non-terminal task
func (db *DB) AppendEvidence(ctx context.Context, taskID uuid.UUID, evidence []types.Evidence) error {
	if len(evidence) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOpenTask(ctx, tx, taskID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, e := range evidence {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		batch.Queue(
			`INSERT INTO task_evidence (id, task_id, attempt, snippet, source, relevance, credibility, origin, stance, excluded)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, taskID, e.Attempt, e.Snippet, e.Source, e.Relevance, e.Credibility, e.Origin, e.Stance, e.Excluded,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit evidence: %w", err)
	}
	return nil
}

// AppendCritique appends one entry to a non-terminal task's critique history
func (db *DB) AppendCritique(ctx context.Context, taskID uuid.UUID, critique types.Critique) error {
	feedbackJSON, err := json.Marshal(critique.Feedback)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockOpenTask(ctx, tx, taskID); err != nil {
		return err
	}

	createdAt := critique.CreatedAt
	if createdAt.IsZero() {
		createdAt = db.now()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO task_critiques (task_id, verdict, rationale, feedback, scope, attempt, synthetic, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		taskID, critique.Verdict, critique.Rationale, feedbackJSON, critique.Scope,
		critique.Attempt, critique.Synthetic, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert critique: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit critique: %w", err)
	}
	return nil
}

// TaskProgress counts terminal and total tasks for a job
func (db *DB) TaskProgress(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	var terminal, total int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE outcome IN `+terminalOutcomes+`), COUNT(*)
		 FROM research_tasks WHERE job_id = $1`,
		jobID,
	).Scan(&terminal, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return terminal, total, nil
}

// lockOpenTask takes a row lock and rejects terminal tasks
func lockOpenTask(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) error {
	var outcome types.Outcome
	err := tx.QueryRow(ctx,
		`SELECT outcome FROM research_tasks WHERE id = $1 FOR UPDATE`, taskID,
	).Scan(&outcome)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &tracker.NotFoundError{Kind: "task", ID: taskID}
		}
		return fmt.Errorf("failed to lock task: %w", err)
	}
	if outcome.IsTerminal() {
		return types.ErrTaskTerminal
	}
	return nil
}

func (db *DB) listTasks(ctx context.Context, jobID uuid.UUID) ([]types.ResearchTask, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM research_tasks WHERE job_id = $1 ORDER BY ordinal`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.ResearchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		if err := db.loadTaskHistory(ctx, &tasks[i]); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (db *DB) loadTaskHistory(ctx context.Context, task *types.ResearchTask) error {
	evidence, err := db.listEvidence(ctx, task.ID)
	if err != nil {
		return err
	}
	critiques, err := db.listCritiques(ctx, task.ID)
	if err != nil {
		return err
	}
	task.Evidence = evidence
	task.Critiques = critiques
	return nil
}

func (db *DB) listEvidence(ctx context.Context, taskID uuid.UUID) ([]types.Evidence, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, task_id, attempt, snippet, source, relevance, credibility, origin, stance, excluded
		 FROM task_evidence WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var out []types.Evidence
	for rows.Next() {
		var e types.Evidence
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Attempt, &e.Snippet, &e.Source,
			&e.Relevance, &e.Credibility, &e.Origin, &e.Stance, &e.Excluded); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *DB) listCritiques(ctx context.Context, taskID uuid.UUID) ([]types.Critique, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT verdict, rationale, feedback, scope, attempt, synthetic, created_at
		 FROM task_critiques WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list critiques: %w", err)
	}
	defer rows.Close()

	var out []types.Critique
	for rows.Next() {
		var c types.Critique
		var feedbackJSON []byte
		if err := rows.Scan(&c.Verdict, &c.Rationale, &feedbackJSON, &c.Scope,
			&c.Attempt, &c.Synthetic, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan critique: %w", err)
		}
		if len(feedbackJSON) > 0 {
			_ = json.Unmarshal(feedbackJSON, &c.Feedback)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*types.ResearchTask, error) {
	var t types.ResearchTask
	err := row.Scan(&t.ID, &t.JobID, &t.Ordinal, &t.Description, &t.Hypothesis,
		&t.Attempts, &t.MaxAttempts, &t.Outcome, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
