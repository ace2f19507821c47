package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"upbit-trading-engine/internal/folds"
)

// CandleRepository provides queries over one candle table. Minute and daily
// candles share the same schema and differ only by table.
type CandleRepository struct {
	db    *DB
	table string
}

// NewMinuteCandleRepository returns the repository for 1-minute candles.
func NewMinuteCandleRepository(db *DB) *CandleRepository {
	return &CandleRepository{db: db, table: "historical_minute_ohlcv"}
}

// NewDayCandleRepository returns the repository for daily candles.
func NewDayCandleRepository(db *DB) *CandleRepository {
	return &CandleRepository{db: db, table: "historical_ohlcv"}
}

// asNaive strips the location so a KST wall-clock time is stored verbatim in
// a TIMESTAMP column.
func asNaive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// asKST rebinds a scanned naive timestamp to the exchange's wall clock.
func asKST(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, folds.KST)
}

func (r *CandleRepository) scanCandle(row pgx.Row) (*Candle, error) {
	var c Candle
	err := row.Scan(&c.ID, &c.Market, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Timestamp = asKST(c.Timestamp)
	return &c, nil
}

// FindFirstAtOrAfter returns the first candle with timestamp >= t, or nil
// when the store has none.
func (r *CandleRepository) FindFirstAtOrAfter(ctx context.Context, market string, t time.Time) (*Candle, error) {
	query := fmt.Sprintf(`
		SELECT id, market, timestamp, open, high, low, close, volume, created_at
		FROM %s
		WHERE market = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
		LIMIT 1`, r.table)

	c, err := r.scanCandle(r.db.Pool.QueryRow(ctx, query, market, asNaive(t)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query first candle at or after %s: %w", t, err)
	}
	return c, nil
}

// FindLastAtOrBefore returns the latest candle with timestamp <= t, or nil.
func (r *CandleRepository) FindLastAtOrBefore(ctx context.Context, market string, t time.Time) (*Candle, error) {
	query := fmt.Sprintf(`
		SELECT id, market, timestamp, open, high, low, close, volume, created_at
		FROM %s
		WHERE market = $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT 1`, r.table)

	c, err := r.scanCandle(r.db.Pool.QueryRow(ctx, query, market, asNaive(t)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last candle at or before %s: %w", t, err)
	}
	return c, nil
}

// FindByDate returns the candle on the given calendar date (daily table), or nil.
func (r *CandleRepository) FindByDate(ctx context.Context, market string, date time.Time) (*Candle, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	c, err := r.FindFirstAtOrAfter(ctx, market, dayStart)
	if err != nil || c == nil {
		return c, err
	}
	if !c.Timestamp.Before(dayStart.AddDate(0, 0, 1)) {
		return nil, nil
	}
	return c, nil
}

// FindRange returns candles in [start, end), ascending by timestamp.
func (r *CandleRepository) FindRange(ctx context.Context, market string, start, end time.Time) ([]Candle, error) {
	query := fmt.Sprintf(`
		SELECT id, market, timestamp, open, high, low, close, volume, created_at
		FROM %s
		WHERE market = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC`, r.table)

	rows, err := r.db.Pool.Query(ctx, query, market, asNaive(start), asNaive(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query candle range: %w", err)
	}
	defer rows.Close()

	var candles []Candle
	for rows.Next() {
		var c Candle
		if err := rows.Scan(&c.ID, &c.Market, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.Timestamp = asKST(c.Timestamp)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candle range iteration failed: %w", err)
	}
	return candles, nil
}

// CandleIterator is a lazy, forward-only, single-pass reader over a candle
// range. Close must be called on every exit path; it releases the underlying
// connection. Next/Candle/Err follow the pgx.Rows convention.
type CandleIterator interface {
	Next() bool
	Candle() Candle
	Err() error
	Close()
}

type candleStream struct {
	rows    pgx.Rows
	current Candle
	err     error
}

func (s *candleStream) Next() bool {
	if s.err != nil || !s.rows.Next() {
		return false
	}
	var c Candle
	if err := s.rows.Scan(&c.ID, &c.Market, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.CreatedAt); err != nil {
		s.err = err
		return false
	}
	c.Timestamp = asKST(c.Timestamp)
	s.current = c
	return true
}

func (s *candleStream) Candle() Candle { return s.current }

func (s *candleStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.rows.Err()
}

func (s *candleStream) Close() { s.rows.Close() }

// StreamRange returns a lazy iterator over candles in [start, end), ascending.
// Rows are read from the wire as the iterator advances; the full range is
// never buffered in memory.
func (r *CandleRepository) StreamRange(ctx context.Context, market string, start, end time.Time) (CandleIterator, error) {
	query := fmt.Sprintf(`
		SELECT id, market, timestamp, open, high, low, close, volume, created_at
		FROM %s
		WHERE market = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp ASC`, r.table)

	rows, err := r.db.Pool.Query(ctx, query, market, asNaive(start), asNaive(end))
	if err != nil {
		return nil, fmt.Errorf("failed to open candle stream: %w", err)
	}
	return &candleStream{rows: rows}, nil
}

// ExistingTimestamps returns which of the given timestamps already have a row
// for the market. Keys are KST wall-clock times.
func (r *CandleRepository) ExistingTimestamps(ctx context.Context, market string, timestamps []time.Time) (map[time.Time]bool, error) {
	existing := make(map[time.Time]bool, len(timestamps))
	if len(timestamps) == 0 {
		return existing, nil
	}

	naive := make([]time.Time, len(timestamps))
	for i, t := range timestamps {
		naive[i] = asNaive(t)
	}

	query := fmt.Sprintf(`
		SELECT timestamp FROM %s
		WHERE market = $1 AND timestamp = ANY($2)`, r.table)

	rows, err := r.db.Pool.Query(ctx, query, market, naive)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan timestamp: %w", err)
		}
		existing[asKST(t)] = true
	}
	return existing, rows.Err()
}

// InsertBatch inserts candles, skipping rows whose (market, timestamp) already
// exists. Returns the number of rows actually inserted.
func (r *CandleRepository) InsertBatch(ctx context.Context, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (market, timestamp, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market, timestamp) DO NOTHING`, r.table)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, c := range candles {
		tag, err := tx.Exec(ctx, query,
			c.Market, asNaive(c.Timestamp), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return 0, fmt.Errorf("failed to insert candle at %s: %w", c.Timestamp, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit candle batch: %w", err)
	}
	return inserted, nil
}

// OldestTimestamp returns the oldest stored timestamp for the market, or nil
// when no rows exist.
func (r *CandleRepository) OldestTimestamp(ctx context.Context, market string) (*time.Time, error) {
	query := fmt.Sprintf(`SELECT MIN(timestamp) FROM %s WHERE market = $1`, r.table)

	var t *time.Time
	if err := r.db.Pool.QueryRow(ctx, query, market).Scan(&t); err != nil {
		return nil, fmt.Errorf("failed to query oldest timestamp: %w", err)
	}
	if t == nil {
		return nil, nil
	}
	kst := asKST(*t)
	return &kst, nil
}

// Count returns the number of stored candles for the market.
func (r *CandleRepository) Count(ctx context.Context, market string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE market = $1`, r.table)

	var count int64
	if err := r.db.Pool.QueryRow(ctx, query, market).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count candles: %w", err)
	}
	return count, nil
}
