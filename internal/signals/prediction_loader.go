// Package signals loads prediction and CUSUM signal data from CSV files.
package signals

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/logging"
)

// PredictionStore is the slice of the prediction repository the loader uses.
type PredictionStore interface {
	ReplaceBatch(ctx context.Context, market string, foldNumber int, modelName string, predictions []database.Prediction) (int, error)
}

// PredictionLoader imports per-(fold, model) prediction CSV files into the
// prediction table. Re-importing a file replaces its previous rows.
type PredictionLoader struct {
	repo   PredictionStore
	market string
	logger *logging.Logger
}

func NewPredictionLoader(repo PredictionStore, market string) *PredictionLoader {
	return &PredictionLoader{
		repo:   repo,
		market: market,
		logger: logging.Default().WithComponent("prediction_loader"),
	}
}

// predictionFilePattern matches e.g. predictions_GRU_fold3.csv.
var predictionFilePattern = regexp.MustCompile(`^predictions_([A-Za-z0-9\-]+)_fold([1-8])\.csv$`)

// LoadResult summarises one import.
type LoadResult struct {
	File     string `json:"file"`
	Fold     int    `json:"fold"`
	Model    string `json:"model"`
	Loaded   int    `json:"loaded"`
	Skipped  int    `json:"skipped"`
	Replaced bool   `json:"replaced"`
}

// LoadDir imports every prediction CSV in dir whose name matches the
// predictions_{model}_fold{n}.csv convention.
func (l *PredictionLoader) LoadDir(ctx context.Context, dir string) ([]LoadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction directory: %w", err)
	}

	var results []LoadResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := predictionFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		model := m[1]
		fold, _ := strconv.Atoi(m[2])

		result, err := l.LoadFile(ctx, filepath.Join(dir, entry.Name()), fold, model)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
		results = append(results, *result)
	}
	return results, nil
}

// LoadFile imports one prediction CSV for (fold, model). Rows with
// unparseable cells are skipped with a warning; the load continues.
func (l *PredictionLoader) LoadFile(ctx context.Context, path string, fold int, model string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prediction file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse prediction csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("prediction file %s has no data rows", path)
	}

	var predictions []database.Prediction
	skipped := 0
	for i, row := range records[1:] {
		p, err := parsePredictionRow(row)
		if err != nil {
			l.logger.Warn("Skipping bad prediction row", "file", filepath.Base(path), "row", i+2, "error", err.Error())
			skipped++
			continue
		}
		predictions = append(predictions, *p)
	}

	loaded, err := l.repo.ReplaceBatch(ctx, l.market, fold, model, predictions)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Loaded prediction file",
		"file", filepath.Base(path), "fold", fold, "model", model,
		"loaded", loaded, "skipped", skipped)

	return &LoadResult{
		File:     filepath.Base(path),
		Fold:     fold,
		Model:    model,
		Loaded:   loaded,
		Skipped:  skipped,
		Replaced: true,
	}, nil
}

// parsePredictionRow decodes the fixed 11-column layout:
// date, actualDirection, actualReturn, takeProfitPrice, stopLossPrice,
// predDirection, predProbaUp, predProbaDown, maxProba, confidence, correct.
func parsePredictionRow(row []string) (*database.Prediction, error) {
	if len(row) < 11 {
		return nil, fmt.Errorf("expected 11 columns, got %d", len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	date, err := time.ParseInLocation("2006-01-02", row[0], folds.KST)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", row[0], err)
	}

	actualDirection, err := strconv.Atoi(row[1])
	if err != nil {
		return nil, fmt.Errorf("invalid actualDirection %q", row[1])
	}
	actualReturn, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid actualReturn %q", row[2])
	}
	takeProfit, err := decimal.NewFromString(row[3])
	if err != nil {
		return nil, fmt.Errorf("invalid takeProfitPrice %q", row[3])
	}
	stopLoss, err := decimal.NewFromString(row[4])
	if err != nil {
		return nil, fmt.Errorf("invalid stopLossPrice %q", row[4])
	}
	predDirection, err := strconv.Atoi(row[5])
	if err != nil {
		return nil, fmt.Errorf("invalid predDirection %q", row[5])
	}
	probaUp, err := strconv.ParseFloat(row[6], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid predProbaUp %q", row[6])
	}
	probaDown, err := strconv.ParseFloat(row[7], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid predProbaDown %q", row[7])
	}
	maxProba, err := strconv.ParseFloat(row[8], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid maxProba %q", row[8])
	}
	confidence, err := strconv.ParseFloat(row[9], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence %q", row[9])
	}
	correct, err := parseBoolCell(row[10])
	if err != nil {
		return nil, fmt.Errorf("invalid correct %q", row[10])
	}

	return &database.Prediction{
		Date:            date,
		ActualDirection: actualDirection,
		ActualReturn:    actualReturn,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		PredDirection:   predDirection,
		PredProbaUp:     probaUp,
		PredProbaDown:   probaDown,
		MaxProba:        maxProba,
		Confidence:      confidence,
		Correct:         correct,
	}, nil
}

func parseBoolCell(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}
