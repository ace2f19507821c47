// Package ingest backfills historical candles from the exchange into the
// local store. Backfills walk backwards in time from the newest missing data.
package ingest

import (
	"context"
	"fmt"
	"time"

	"upbit-trading-engine/internal/database"
	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/logging"
	"upbit-trading-engine/internal/metrics"
	"upbit-trading-engine/internal/signals"
	"upbit-trading-engine/internal/upbit"
)

// stall detector: consecutive all-duplicate batches before terminating
const stallLimit = 3

// CandleFetcher is the slice of the exchange client the pipeline uses.
type CandleFetcher interface {
	GetMinuteCandles(ctx context.Context, market string, to time.Time, count int) ([]upbit.Candle, error)
	GetDayCandles(ctx context.Context, market string, to time.Time, count int) ([]upbit.Candle, error)
}

// CandleStore is the slice of the candle repository the pipeline uses.
type CandleStore interface {
	OldestTimestamp(ctx context.Context, market string) (*time.Time, error)
	ExistingTimestamps(ctx context.Context, market string, timestamps []time.Time) (map[time.Time]bool, error)
	InsertBatch(ctx context.Context, candles []database.Candle) (int, error)
	Count(ctx context.Context, market string) (int64, error)
}

// Pipeline backfills one market's candle history.
type Pipeline struct {
	client     CandleFetcher
	minuteRepo CandleStore
	dayRepo    CandleStore
	cusum      *signals.CusumCache
	market     string
	batchSize  int
	delay      time.Duration
	logger     *logging.Logger
}

func NewPipeline(client CandleFetcher, minuteRepo, dayRepo CandleStore, cusum *signals.CusumCache, market string, batchSize int, delay time.Duration) *Pipeline {
	return &Pipeline{
		client:     client,
		minuteRepo: minuteRepo,
		dayRepo:    dayRepo,
		cusum:      cusum,
		market:     market,
		batchSize:  batchSize,
		delay:      delay,
		logger:     logging.Default().WithComponent("ingest"),
	}
}

// Result summarises one backfill run.
type Result struct {
	Market        string    `json:"market"`
	Inserted      int       `json:"inserted"`
	Batches       int       `json:"batches"`
	Duplicates    int       `json:"duplicates"`
	StoppedReason string    `json:"stopped_reason"`
	OldestStored  time.Time `json:"oldest_stored,omitempty"`
}

// BackfillMinutes fills the minute-candle store over [startDate, endDate],
// walking backwards. If the store already holds rows, the run resumes from
// the oldest stored timestamp; fully-duplicate batches advance the cursor by
// force and three in a row terminate the run.
func (p *Pipeline) BackfillMinutes(ctx context.Context, startDate, endDate time.Time) (*Result, error) {
	cursor, err := p.resumeCursor(ctx, endDate)
	if err != nil {
		return nil, err
	}
	p.logger.Info("Starting minute-candle backfill",
		"market", p.market, "start", startDate.Format("2006-01-02"),
		"end", endDate.Format("2006-01-02"), "cursor", cursor.Format(time.RFC3339))

	startDay := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, folds.KST)
	result := &Result{Market: p.market}
	zeroStreak := 0

	for {
		if cursor.Before(startDay) {
			result.StoppedReason = "reached_start_date"
			break
		}

		batch, err := p.client.GetMinuteCandles(ctx, p.market, cursor, p.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch minute candles: %w", err)
		}
		if len(batch) == 0 {
			result.StoppedReason = "empty_batch"
			break
		}
		result.Batches++

		candles, oldestInBatch, err := p.toEntities(batch)
		if err != nil {
			return nil, err
		}

		inserted, duplicates, oldestSaved, err := p.insertNew(ctx, p.minuteRepo, candles)
		if err != nil {
			return nil, err
		}
		result.Inserted += inserted
		result.Duplicates += duplicates
		metrics.CandlesIngested.WithLabelValues("minute").Add(float64(inserted))

		if inserted > 0 {
			cursor = oldestSaved
			zeroStreak = 0
		} else {
			// force progress past a fully-duplicate batch
			cursor = oldestInBatch.Add(-time.Minute)
			zeroStreak++
			if zeroStreak >= stallLimit {
				result.StoppedReason = "stalled"
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	if oldest, err := p.minuteRepo.OldestTimestamp(ctx, p.market); err == nil && oldest != nil {
		result.OldestStored = *oldest
	}
	p.logger.Info("Minute-candle backfill finished",
		"market", p.market, "inserted", result.Inserted,
		"batches", result.Batches, "reason", result.StoppedReason)
	return result, nil
}

// resumeCursor picks where a backfill continues: the oldest stored timestamp,
// or the end date's last second when the store is empty.
func (p *Pipeline) resumeCursor(ctx context.Context, endDate time.Time) (time.Time, error) {
	oldest, err := p.minuteRepo.OldestTimestamp(ctx, p.market)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read resume cursor: %w", err)
	}
	if oldest != nil {
		return *oldest, nil
	}
	return time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, 0, folds.KST), nil
}

// toEntities converts a newest-first wire batch and reports its oldest time.
func (p *Pipeline) toEntities(batch []upbit.Candle) ([]database.Candle, time.Time, error) {
	candles := make([]database.Candle, 0, len(batch))
	var oldest time.Time

	for _, c := range batch {
		ts, err := c.KSTTime()
		if err != nil {
			return nil, time.Time{}, err
		}
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
		candles = append(candles, database.Candle{
			Market:    p.market,
			Timestamp: ts,
			Open:      c.OpeningPrice,
			High:      c.HighPrice,
			Low:       c.LowPrice,
			Close:     c.TradePrice,
			Volume:    c.AccTradeVolume,
		})
	}
	return candles, oldest, nil
}

// insertNew runs the dedup pass and inserts only rows the store lacks.
// Returns the inserted count, duplicate count, and oldest inserted timestamp.
func (p *Pipeline) insertNew(ctx context.Context, store CandleStore, candles []database.Candle) (int, int, time.Time, error) {
	timestamps := make([]time.Time, len(candles))
	for i, c := range candles {
		timestamps[i] = c.Timestamp
	}
	existing, err := store.ExistingTimestamps(ctx, p.market, timestamps)
	if err != nil {
		return 0, 0, time.Time{}, err
	}

	var (
		fresh       []database.Candle
		oldestSaved time.Time
	)
	for _, c := range candles {
		if existing[c.Timestamp] {
			continue
		}
		if oldestSaved.IsZero() || c.Timestamp.Before(oldestSaved) {
			oldestSaved = c.Timestamp
		}
		fresh = append(fresh, c)
	}

	inserted, err := store.InsertBatch(ctx, fresh)
	if err != nil {
		return 0, 0, time.Time{}, err
	}
	return inserted, len(candles) - len(fresh), oldestSaved, nil
}

// FillForSignals backfills minute candles covering the loaded CUSUM signal
// range, so every cached signal can be simulated. Only history is supported;
// a range reaching into the future is clamped with a warning.
func (p *Pipeline) FillForSignals(ctx context.Context) (*Result, error) {
	first, last := p.cusum.DateRange()
	if first.IsZero() {
		return nil, fmt.Errorf("cusum cache is empty, nothing to fill")
	}

	now := time.Now().In(folds.KST)
	if last.After(now) {
		p.logger.Warn("Signal range extends into the future, clamping",
			"requested_end", last.Format(time.RFC3339))
		last = now
	}
	return p.BackfillMinutes(ctx, first, last)
}

// BackfillDays fills the daily-candle store over [startDate, endDate] with
// the same backward pagination, without the minute pipeline's resume cursor.
func (p *Pipeline) BackfillDays(ctx context.Context, startDate, endDate time.Time) (*Result, error) {
	cursor := time.Date(endDate.Year(), endDate.Month(), endDate.Day(), 23, 59, 59, 0, folds.KST)
	startDay := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, folds.KST)
	result := &Result{Market: p.market}
	zeroStreak := 0

	for {
		if cursor.Before(startDay) {
			result.StoppedReason = "reached_start_date"
			break
		}

		batch, err := p.client.GetDayCandles(ctx, p.market, cursor, p.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch day candles: %w", err)
		}
		if len(batch) == 0 {
			result.StoppedReason = "empty_batch"
			break
		}
		result.Batches++

		candles, oldestInBatch, err := p.toEntities(batch)
		if err != nil {
			return nil, err
		}

		inserted, duplicates, oldestSaved, err := p.insertNew(ctx, p.dayRepo, candles)
		if err != nil {
			return nil, err
		}
		result.Inserted += inserted
		result.Duplicates += duplicates
		metrics.CandlesIngested.WithLabelValues("day").Add(float64(inserted))

		if inserted > 0 {
			cursor = oldestSaved
			zeroStreak = 0
		} else {
			cursor = oldestInBatch.AddDate(0, 0, -1)
			zeroStreak++
			if zeroStreak >= stallLimit {
				result.StoppedReason = "stalled"
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	p.logger.Info("Day-candle backfill finished",
		"market", p.market, "inserted", result.Inserted, "reason", result.StoppedReason)
	return result, nil
}
