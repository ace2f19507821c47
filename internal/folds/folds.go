// Package folds defines the static walk-forward validation windows.
// Folds 1-7 are chained by the sequential backtest; fold 8 is the final holdout.
package folds

import (
	"fmt"
	"time"
)

// Regime is a coarse market-condition label attached to a fold.
type Regime string

const (
	Bull     Regime = "BULL"
	Bear     Regime = "BEAR"
	Sideways Regime = "SIDEWAYS"
	Mixed    Regime = "MIXED"
)

// Fold is one contiguous out-of-sample window.
type Fold struct {
	Number    int
	StartDate time.Time // inclusive, KST midnight
	EndDate   time.Time // inclusive, KST midnight
	Regime    Regime
}

// KST is the exchange's local wall clock. All domain timestamps live here.
var KST = time.FixedZone("KST", 9*60*60)

// MinCount and MaxCount bound valid fold numbers.
const (
	MinCount = 1
	MaxCount = 8
)

var table = []Fold{
	{1, date(2023, 1, 1), date(2023, 3, 31), Bull},
	{2, date(2023, 4, 1), date(2023, 6, 30), Sideways},
	{3, date(2023, 7, 1), date(2023, 9, 30), Bear},
	{4, date(2023, 10, 1), date(2023, 12, 31), Bull},
	{5, date(2024, 1, 1), date(2024, 3, 31), Bull},
	{6, date(2024, 4, 1), date(2024, 6, 30), Sideways},
	{7, date(2024, 7, 1), date(2024, 9, 30), Mixed},
	{8, date(2024, 10, 1), date(2024, 12, 31), Mixed},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, KST)
}

// Get returns the fold with the given number.
func Get(number int) (Fold, error) {
	if number < MinCount || number > MaxCount {
		return Fold{}, fmt.Errorf("fold number must be between %d and %d, got %d", MinCount, MaxCount, number)
	}
	return table[number-1], nil
}

// All returns every fold in order.
func All() []Fold {
	out := make([]Fold, len(table))
	copy(out, table)
	return out
}

// TradingOpen is the daily trading open for a calendar date: 09:00 KST.
func TradingOpen(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 9, 0, 0, 0, KST)
}

// EntryTime is the fold's trading-day open: start date at 09:00 KST.
func (f Fold) EntryTime() time.Time {
	return time.Date(f.StartDate.Year(), f.StartDate.Month(), f.StartDate.Day(), 9, 0, 0, 0, KST)
}

// CloseTime is the last minute of the fold's end date.
func (f Fold) CloseTime() time.Time {
	return time.Date(f.EndDate.Year(), f.EndDate.Month(), f.EndDate.Day(), 23, 59, 0, 0, KST)
}

// Contains reports whether t falls on a date within [StartDate, EndDate].
func (f Fold) Contains(t time.Time) bool {
	t = t.In(KST)
	dayStart := f.StartDate
	dayEnd := f.EndDate.AddDate(0, 0, 1)
	return !t.Before(dayStart) && t.Before(dayEnd)
}
