package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// JobRepository persists async backtest job state so progress survives
// restarts and can be polled over the API.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create registers a new job in PENDING state.
func (r *JobRepository) Create(ctx context.Context, jobID string, totalTasks int) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO backtest_jobs (job_id, status, total_tasks)
		VALUES ($1, $2, $3)`,
		jobID, JobStatusPending, totalTasks)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", jobID, err)
	}
	return nil
}

// MarkRunning transitions a job to RUNNING and stamps started_at.
func (r *JobRepository) MarkRunning(ctx context.Context, jobID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE backtest_jobs SET status = $2, started_at = NOW()
		WHERE job_id = $1`,
		jobID, JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", jobID, err)
	}
	return nil
}

// IncrementProgress bumps the completed or failed counter for one task.
func (r *JobRepository) IncrementProgress(ctx context.Context, jobID string, failed bool) error {
	column := "completed_tasks"
	if failed {
		column = "failed_tasks"
	}
	query := fmt.Sprintf(`UPDATE backtest_jobs SET %s = %s + 1 WHERE job_id = $1`, column, column)
	if _, err := r.db.Pool.Exec(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to record progress for job %s: %w", jobID, err)
	}
	return nil
}

// MarkCompleted transitions a job to COMPLETED and stamps finished_at.
func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE backtest_jobs SET status = $2, finished_at = NOW()
		WHERE job_id = $1`,
		jobID, JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark job %s completed: %w", jobID, err)
	}
	return nil
}

// MarkFailed transitions a job to FAILED with an error message.
func (r *JobRepository) MarkFailed(ctx context.Context, jobID, message string) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE backtest_jobs SET status = $2, error_message = $3, finished_at = NOW()
		WHERE job_id = $1`,
		jobID, JobStatusFailed, message)
	if err != nil {
		return fmt.Errorf("failed to mark job %s failed: %w", jobID, err)
	}
	return nil
}

// FindByID returns the job with the given id, or nil.
func (r *JobRepository) FindByID(ctx context.Context, jobID string) (*BacktestJob, error) {
	var j BacktestJob
	err := r.db.Pool.QueryRow(ctx, `
		SELECT job_id, status, total_tasks, completed_tasks, failed_tasks,
			COALESCE(error_message, ''), started_at, finished_at, created_at
		FROM backtest_jobs WHERE job_id = $1`,
		jobID).
		Scan(&j.JobID, &j.Status, &j.TotalTasks, &j.CompletedTasks, &j.FailedTasks,
			&j.ErrorMessage, &j.StartedAt, &j.FinishedAt, &j.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job %s: %w", jobID, err)
	}
	return &j, nil
}
