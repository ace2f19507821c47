package signals

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
)

type fakePredictionStore struct {
	market string
	fold   int
	model  string
	rows   []database.Prediction
	calls  int
}

func (f *fakePredictionStore) ReplaceBatch(ctx context.Context, market string, foldNumber int, modelName string, predictions []database.Prediction) (int, error) {
	f.market = market
	f.fold = foldNumber
	f.model = modelName
	f.rows = predictions
	f.calls++
	return len(predictions), nil
}

const predictionHeader = "date,actual_direction,actual_return,take_profit_price,stop_loss_price,pred_direction,pred_proba_up,pred_proba_down,max_proba,confidence,correct\n"

func writePredictionFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(predictionHeader+body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writePredictionFile(t, dir, "predictions_GRU_fold3.csv",
		"2024-01-02,1,0.034,3100000,2900000,1,0.63,0.37,0.63,0.13,true\n"+
			"not-a-date,1,0.01,3100000,2900000,1,0.6,0.4,0.6,0.1,true\n"+
			"2024-01-03,0,-0.012,3150000,2950000,0,0.41,0.59,0.59,0.09,false\n")

	store := &fakePredictionStore{}
	loader := NewPredictionLoader(store, "KRW-ETH")

	result, err := loader.LoadFile(context.Background(), path, 3, "GRU")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Loaded)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.Replaced)
	assert.Equal(t, "KRW-ETH", store.market)
	assert.Equal(t, 3, store.fold)
	assert.Equal(t, "GRU", store.model)

	require.Len(t, store.rows, 2)
	first := store.rows[0]
	assert.True(t, first.Date.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, folds.KST)),
		"dates parse as KST midnight, got %v", first.Date)
	assert.Equal(t, 1, first.ActualDirection)
	assert.InDelta(t, 0.034, first.ActualReturn, 1e-9)
	assert.Equal(t, "3100000", first.TakeProfitPrice.String())
	assert.Equal(t, "2900000", first.StopLossPrice.String())
	assert.Equal(t, 1, first.PredDirection)
	assert.InDelta(t, 0.63, first.PredProbaUp, 1e-9)
	assert.InDelta(t, 0.13, first.Confidence, 1e-9)
	assert.True(t, first.Correct)
	assert.False(t, store.rows[1].Correct)
}

func TestLoadFileShortRowSkipped(t *testing.T) {
	dir := t.TempDir()
	path := writePredictionFile(t, dir, "predictions_GRU_fold1.csv",
		"2024-01-02,1,0.034\n"+
			"2024-01-03,1,0.02,3100000,2900000,1,0.6,0.4,0.6,0.1,1\n")

	store := &fakePredictionStore{}
	loader := NewPredictionLoader(store, "KRW-ETH")

	result, err := loader.LoadFile(context.Background(), path, 1, "GRU")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Loaded)
	assert.Equal(t, 1, result.Skipped)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	row := "2024-01-02,1,0.03,3100000,2900000,1,0.6,0.4,0.6,0.1,yes\n"
	writePredictionFile(t, dir, "predictions_GRU_fold1.csv", row)
	writePredictionFile(t, dir, "predictions_LSTM-CNN_fold8.csv", row)
	// neither of these matches the naming convention
	writePredictionFile(t, dir, "predictions_GRU_fold9.csv", row)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	store := &fakePredictionStore{}
	loader := NewPredictionLoader(store, "KRW-ETH")

	results, err := loader.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, store.calls)

	byFile := map[string]LoadResult{}
	for _, r := range results {
		byFile[r.File] = r
	}
	require.Contains(t, byFile, "predictions_GRU_fold1.csv")
	require.Contains(t, byFile, "predictions_LSTM-CNN_fold8.csv")
	assert.Equal(t, 1, byFile["predictions_GRU_fold1.csv"].Fold)
	assert.Equal(t, "GRU", byFile["predictions_GRU_fold1.csv"].Model)
	assert.Equal(t, 8, byFile["predictions_LSTM-CNN_fold8.csv"].Fold)
	assert.Equal(t, "LSTM-CNN", byFile["predictions_LSTM-CNN_fold8.csv"].Model)
}

func TestLoadDirMissing(t *testing.T) {
	loader := NewPredictionLoader(&fakePredictionStore{}, "KRW-ETH")
	_, err := loader.LoadDir(context.Background(), "/nonexistent/path")
	assert.Error(t, err)
}

func TestParseBoolCell(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"True", true, false},
		{"1", true, false},
		{"yes", true, false},
		{"false", false, false},
		{"0", false, false},
		{"no", false, false},
		{"", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		got, err := parseBoolCell(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
