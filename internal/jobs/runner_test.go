package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/backtest"
	"upbit-trading-engine/internal/database"
)

// fakeJobStore keeps job rows in memory behind a mutex; the runner updates
// them from its worker goroutine.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*database.BacktestJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*database.BacktestJob)}
}

func (f *fakeJobStore) Create(ctx context.Context, jobID string, totalTasks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = &database.BacktestJob{
		JobID:      jobID,
		Status:     database.JobStatusPending,
		TotalTasks: totalTasks,
	}
	return nil
}

func (f *fakeJobStore) MarkRunning(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = database.JobStatusRunning
	return nil
}

func (f *fakeJobStore) IncrementProgress(ctx context.Context, jobID string, failed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[jobID]
	job.CompletedTasks++
	if failed {
		job.FailedTasks++
	}
	return nil
}

func (f *fakeJobStore) MarkCompleted(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = database.JobStatusCompleted
	return nil
}

func (f *fakeJobStore) MarkFailed(ctx context.Context, jobID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = database.JobStatusFailed
	f.jobs[jobID].ErrorMessage = message
	return nil
}

func (f *fakeJobStore) FindByID(ctx context.Context, jobID string) (*database.BacktestJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

// fakeBacktester records every task and fails the scripted (model, fold)
// combinations.
type fakeBacktester struct {
	mu    sync.Mutex
	runs  []backtest.TPSLRequest
	fails map[string]map[int]bool
	panic bool
}

func (f *fakeBacktester) RunTPSL(ctx context.Context, req backtest.TPSLRequest) (*backtest.Response, error) {
	if f.panic {
		panic("boom")
	}
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.fails[req.ModelName][req.FoldNumber] {
		return nil, errors.New("scripted failure")
	}
	return &backtest.Response{FoldNumber: req.FoldNumber, ModelName: req.ModelName}, nil
}

func batchParams(models []string, foldNums []int) BatchParams {
	return BatchParams{
		ModelNames:     models,
		FoldNumbers:    foldNums,
		InitialCapital: decimal.NewFromInt(10000000),
		Threshold:      0.6,
	}
}

func TestSubmitBatchRunsMatrix(t *testing.T) {
	store := newFakeJobStore()
	engine := &fakeBacktester{}
	runner := NewRunner(store, engine, 2)

	jobID, err := runner.SubmitBatch(context.Background(), batchParams([]string{"GRU", "LSTM"}, []int{1, 2, 3}))
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	runner.Wait()

	status, err := runner.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusCompleted, status.Status)
	assert.Equal(t, 6, status.TotalTasks)
	assert.Equal(t, 6, status.CompletedTasks)
	assert.Equal(t, 0, status.FailedTasks)
	assert.Equal(t, 100, status.ProgressPct)
	assert.Len(t, engine.runs, 6)
}

func TestSubmitBatchTaskFailureContinues(t *testing.T) {
	store := newFakeJobStore()
	engine := &fakeBacktester{fails: map[string]map[int]bool{
		"GRU": {2: true},
	}}
	runner := NewRunner(store, engine, 1)

	jobID, err := runner.SubmitBatch(context.Background(), batchParams([]string{"GRU"}, []int{1, 2, 3}))
	require.NoError(t, err)
	runner.Wait()

	status, err := runner.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	// one failed task does not fail the job
	assert.Equal(t, database.JobStatusCompleted, status.Status)
	assert.Equal(t, 3, status.CompletedTasks)
	assert.Equal(t, 1, status.FailedTasks)
	assert.Len(t, engine.runs, 3, "remaining tasks still run after a failure")
}

func TestSubmitBatchPanicMarksFailed(t *testing.T) {
	store := newFakeJobStore()
	runner := NewRunner(store, &fakeBacktester{panic: true}, 1)

	jobID, err := runner.SubmitBatch(context.Background(), batchParams([]string{"GRU"}, []int{1}))
	require.NoError(t, err)
	runner.Wait()

	status, err := runner.GetStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, database.JobStatusFailed, status.Status)
	assert.Contains(t, status.ErrorMessage, "panic")
}

func TestSubmitBatchValidation(t *testing.T) {
	runner := NewRunner(newFakeJobStore(), &fakeBacktester{}, 1)

	_, err := runner.SubmitBatch(context.Background(), batchParams(nil, []int{1}))
	assert.Error(t, err)

	_, err = runner.SubmitBatch(context.Background(), batchParams([]string{"GRU"}, nil))
	assert.Error(t, err)
}

func TestSubmitBatchForwardsParams(t *testing.T) {
	engine := &fakeBacktester{}
	runner := NewRunner(newFakeJobStore(), engine, 1)

	params := batchParams([]string{"GRU"}, []int{4})
	params.ThresholdColumn = "CONFIDENCE"
	params.ThresholdMode = "QUANTILE"
	params.SizingStrategy = "HALF_KELLY"
	params.LadderedExits = true

	_, err := runner.SubmitBatch(context.Background(), params)
	require.NoError(t, err)
	runner.Wait()

	require.Len(t, engine.runs, 1)
	req := engine.runs[0]
	assert.Equal(t, 4, req.FoldNumber)
	assert.Equal(t, "GRU", req.ModelName)
	assert.Equal(t, "CONFIDENCE", req.ThresholdColumn)
	assert.Equal(t, "QUANTILE", req.ThresholdMode)
	assert.Equal(t, "HALF_KELLY", string(req.SizingStrategy))
	assert.True(t, req.LadderedExits)
	assert.InDelta(t, 0.6, req.Threshold, 1e-9)
	assert.True(t, req.InitialCapital.Equal(decimal.NewFromInt(10000000)))
}

func TestGetStatusUnknownJob(t *testing.T) {
	runner := NewRunner(newFakeJobStore(), &fakeBacktester{}, 1)

	_, err := runner.GetStatus(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}
