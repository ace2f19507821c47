package database

import (
	"context"
	"fmt"
)

// PredictionRepository stores per-model daily predictions keyed by
// (market, prediction_date, fold_number, model_name).
type PredictionRepository struct {
	db *DB
}

func NewPredictionRepository(db *DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

// ReplaceBatch deletes all rows for (market, fold, model) and inserts the
// given predictions in one transaction, so re-importing a CSV is idempotent.
func (r *PredictionRepository) ReplaceBatch(ctx context.Context, market string, foldNumber int, modelName string, predictions []Prediction) (int, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM historical_ai_predictions
		WHERE market = $1 AND fold_number = $2 AND model_name = $3`,
		market, foldNumber, modelName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete existing predictions: %w", err)
	}

	query := `
		INSERT INTO historical_ai_predictions (
			market, prediction_date, fold_number, model_name,
			actual_direction, actual_return, pred_direction,
			pred_proba_up, pred_proba_down, max_proba, confidence,
			take_profit_price, stop_loss_price, correct
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	inserted := 0
	for _, p := range predictions {
		_, err := tx.Exec(ctx, query,
			market, asNaive(p.Date), foldNumber, modelName,
			p.ActualDirection, p.ActualReturn, p.PredDirection,
			p.PredProbaUp, p.PredProbaDown, p.MaxProba, p.Confidence,
			p.TakeProfitPrice, p.StopLossPrice, p.Correct)
		if err != nil {
			return 0, fmt.Errorf("failed to insert prediction for %s: %w", p.Date.Format("2006-01-02"), err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit prediction batch: %w", err)
	}
	return inserted, nil
}

// FindByFoldModel returns predictions for (market, fold, model) in ascending
// date order.
func (r *PredictionRepository) FindByFoldModel(ctx context.Context, market string, foldNumber int, modelName string) ([]Prediction, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, market, prediction_date, fold_number, model_name,
			actual_direction, actual_return, pred_direction,
			pred_proba_up, pred_proba_down, max_proba, confidence,
			take_profit_price, stop_loss_price, correct
		FROM historical_ai_predictions
		WHERE market = $1 AND fold_number = $2 AND model_name = $3
		ORDER BY prediction_date ASC`,
		market, foldNumber, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var predictions []Prediction
	for rows.Next() {
		var p Prediction
		err := rows.Scan(&p.ID, &p.Market, &p.Date, &p.FoldNumber, &p.ModelName,
			&p.ActualDirection, &p.ActualReturn, &p.PredDirection,
			&p.PredProbaUp, &p.PredProbaDown, &p.MaxProba, &p.Confidence,
			&p.TakeProfitPrice, &p.StopLossPrice, &p.Correct)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		p.Date = asKST(p.Date)
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prediction iteration failed: %w", err)
	}
	return predictions, nil
}

// ModelNames returns the distinct model names stored for a fold.
func (r *PredictionRepository) ModelNames(ctx context.Context, market string, foldNumber int) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT DISTINCT model_name FROM historical_ai_predictions
		WHERE market = $1 AND fold_number = $2
		ORDER BY model_name`,
		market, foldNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query model names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan model name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Count returns the number of predictions stored for the market.
func (r *PredictionRepository) Count(ctx context.Context, market string) (int64, error) {
	var count int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM historical_ai_predictions WHERE market = $1`, market).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}
