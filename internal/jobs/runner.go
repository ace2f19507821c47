// Package jobs runs batched backtests off the request thread and tracks
// their progress in the job table.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/metrics"
	"upbit-trading-engine/internal/sizing"
)

// ErrJobNotFound is returned by GetStatus for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// BatchParams describes a (models x folds) matrix of TP/SL backtests.
type BatchParams struct {
	ModelNames      []string        `json:"modelNames"`
	FoldNumbers     []int           `json:"foldNumbers"`
	InitialCapital  decimal.Decimal `json:"initialCapital"`
	Threshold       float64         `json:"threshold"`
	ThresholdColumn string          `json:"thresholdColumn"`
	ThresholdMode   string          `json:"thresholdMode"`
	SizingStrategy  string          `json:"sizingStrategy"`
	LadderedExits   bool            `json:"ladderedExits"`
}

// JobStatus is the poll response for one job.
type JobStatus struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	FailedTasks    int    `json:"failed_tasks"`
	ProgressPct    int    `json:"progress_pct"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// JobStore is the slice of the job repository the runner uses.
type JobStore interface {
	Create(ctx context.Context, jobID string, totalTasks int) error
	MarkRunning(ctx context.Context, jobID string) error
	IncrementProgress(ctx context.Context, jobID string, failed bool) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, message string) error
	FindByID(ctx context.Context, jobID string) (*database.BacktestJob, error)
}

// Backtester runs one TP/SL task.
type Backtester interface {
	RunTPSL(ctx context.Context, req backtest.TPSLRequest) (*backtest.Response, error)
}

// Runner owns the worker pool. Tasks within one job run sequentially; the
// pool bounds how many jobs execute concurrently.
type Runner struct {
	repo   JobStore
	engine Backtester
	group  *errgroup.Group
	logger *logging.Logger
}

func NewRunner(repo JobStore, engine Backtester, workers int) *Runner {
	group := &errgroup.Group{}
	group.SetLimit(workers)
	return &Runner{
		repo:   repo,
		engine: engine,
		group:  group,
		logger: logging.Default().WithComponent("jobs"),
	}
}

// SubmitBatch registers a job and schedules it on the pool. Returns the job
// id immediately; per-task results are not persisted, the job row tracks
// progress only.
func (r *Runner) SubmitBatch(ctx context.Context, params BatchParams) (string, error) {
	if len(params.ModelNames) == 0 || len(params.FoldNumbers) == 0 {
		return "", fmt.Errorf("batch requires at least one model and one fold")
	}
	total := len(params.ModelNames) * len(params.FoldNumbers)

	jobID := uuid.NewString()
	if err := r.repo.Create(ctx, jobID, total); err != nil {
		return "", err
	}

	r.group.Go(func() error {
		r.run(jobID, params)
		return nil
	})

	r.logger.Info("Submitted backtest batch", "job_id", jobID, "tasks", total)
	return jobID, nil
}

// run executes the matrix sequentially. A single task failure bumps the
// failed counter and moves on; a failure outside any task marks the whole
// job FAILED.
func (r *Runner) run(jobID string, params BatchParams) {
	ctx := context.Background()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Backtest batch panicked", "job_id", jobID, "panic", fmt.Sprintf("%v", p))
			_ = r.repo.MarkFailed(ctx, jobID, fmt.Sprintf("panic: %v", p))
		}
	}()

	if err := r.repo.MarkRunning(ctx, jobID); err != nil {
		r.logger.Error("Failed to start job", "job_id", jobID, "error", err.Error())
		return
	}

	for _, model := range params.ModelNames {
		for _, fold := range params.FoldNumbers {
			_, err := r.engine.RunTPSL(ctx, backtest.TPSLRequest{
				FoldNumber:      fold,
				ModelName:       model,
				InitialCapital:  params.InitialCapital,
				Threshold:       params.Threshold,
				ThresholdColumn: params.ThresholdColumn,
				ThresholdMode:   params.ThresholdMode,
				SizingStrategy:  sizing.Strategy(params.SizingStrategy),
				LadderedExits:   params.LadderedExits,
			})
			if err != nil {
				r.logger.Warn("Batch task failed", "job_id", jobID, "model", model, "fold", fold, "error", err.Error())
				metrics.JobTasks.WithLabelValues("failed").Inc()
				if perr := r.repo.IncrementProgress(ctx, jobID, true); perr != nil {
					r.failJob(ctx, jobID, perr)
					return
				}
				continue
			}
			metrics.JobTasks.WithLabelValues("completed").Inc()
			if perr := r.repo.IncrementProgress(ctx, jobID, false); perr != nil {
				r.failJob(ctx, jobID, perr)
				return
			}
		}
	}

	if err := r.repo.MarkCompleted(ctx, jobID); err != nil {
		r.logger.Error("Failed to complete job", "job_id", jobID, "error", err.Error())
		return
	}
	r.logger.Info("Backtest batch completed", "job_id", jobID)
}

func (r *Runner) failJob(ctx context.Context, jobID string, err error) {
	r.logger.Error("Backtest batch failed", "job_id", jobID, "error", err.Error())
	_ = r.repo.MarkFailed(ctx, jobID, err.Error())
}

// GetStatus returns the progress snapshot for one job.
func (r *Runner) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, err := r.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	progress := 0
	if job.TotalTasks > 0 {
		progress = 100 * job.CompletedTasks / job.TotalTasks
	}
	return &JobStatus{
		JobID:          job.JobID,
		Status:         job.Status,
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		ProgressPct:    progress,
		ErrorMessage:   job.ErrorMessage,
	}, nil
}

// Wait blocks until all in-flight jobs have drained. Called on shutdown.
func (r *Runner) Wait() {
	_ = r.group.Wait()
}
