package signals

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"upbit-trading-engine/internal/folds"
	"upbit-trading-engine/internal/logging"
)

// CusumSignal is one row of the CUSUM master CSV.
type CusumSignal struct {
	SignalTime      time.Time       `json:"signal_time"`
	Strategy        string          `json:"strategy"`
	Model           string          `json:"model"`
	FoldID          int             `json:"fold_id"`
	PrimarySignal   string          `json:"primary_signal"`
	MLPrediction    string          `json:"ml_prediction"`
	FinalAction     string          `json:"final_action"`
	Confidence      float64         `json:"confidence"`
	Threshold       float64         `json:"threshold"`
	SelectivityPct  float64         `json:"cusum_selectivity_pct"`
	SuggestedWeight float64         `json:"suggested_weight"`
	EntryPriceRef   decimal.Decimal `json:"entry_price_ref"`
	TakeProfitPrice decimal.Decimal `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal `json:"stop_loss_price"`
	ExpirationTime  time.Time       `json:"expiration_time"`
	ActualDirection int             `json:"actual_direction"`
	Correct         bool            `json:"correct"`
}

// cusumAliases maps each canonical column to the header names it may appear
// under. Lookup is case-insensitive; adding a legacy alias is a table edit.
var cusumAliases = map[string][]string{
	"signal_time":           {"signal_time", "timestamp", "signal_datetime"},
	"strategy":              {"strategy", "strategy_name"},
	"model":                 {"model", "model_name", "ml_model"},
	"fold_id":               {"fold_id", "fold", "fold_number"},
	"primary_signal":        {"primary_signal", "cusum_signal"},
	"ml_prediction":         {"ml_prediction", "prediction"},
	"final_action":          {"final_action", "action"},
	"confidence":            {"confidence", "ml_confidence"},
	"threshold":             {"threshold", "confidence_threshold"},
	"cusum_selectivity_pct": {"cusum_selectivity_pct", "selectivity_pct", "selectivity"},
	"suggested_weight":      {"suggested_weight", "position_weight", "weight"},
	"entry_price_ref":       {"entry_price_ref", "entry_price", "reference_price"},
	"take_profit_price":     {"take_profit_price", "tp_price", "take_profit"},
	"stop_loss_price":       {"stop_loss_price", "sl_price", "stop_loss"},
	"expiration_time":       {"expiration_time", "expiry_time", "expiration"},
	"actual_direction":      {"actual_direction", "actual"},
	"correct":               {"correct", "is_correct"},
}

// signal time layouts accepted in the master CSV
var cusumTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// CusumSummary describes the loaded signal set.
type CusumSummary struct {
	TotalSignals    int            `json:"total_signals"`
	TotalBuy        int            `json:"total_buy"`
	CorrectBuy      int            `json:"correct_buy"`
	OverallAccuracy float64        `json:"overall_accuracy"`
	ByStrategy      map[string]int `json:"by_strategy"`
	ByModel         map[string]int `json:"by_model"`
	ByFold          map[int]int    `json:"by_fold"`
}

// CusumCache holds the master CSV in memory. Loaded once at startup; Reload
// atomically replaces the whole vector, so readers never see a partial load.
type CusumCache struct {
	mu      sync.RWMutex
	signals []CusumSignal
	path    string
	logger  *logging.Logger
}

func NewCusumCache(path string) *CusumCache {
	return &CusumCache{
		path:   path,
		logger: logging.Default().WithComponent("cusum_loader"),
	}
}

// Load parses the master CSV and replaces the cache contents.
func (c *CusumCache) Load() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("failed to open cusum csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to parse cusum csv: %w", err)
	}
	if len(records) < 1 {
		return fmt.Errorf("cusum csv %s is empty", c.path)
	}

	index, err := resolveColumns(records[0])
	if err != nil {
		return err
	}

	var signals []CusumSignal
	skipped := 0
	for i, row := range records[1:] {
		s, err := parseCusumRow(row, index)
		if err != nil {
			c.logger.Warn("Skipping bad cusum row", "row", i+2, "error", err.Error())
			skipped++
			continue
		}
		signals = append(signals, *s)
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].SignalTime.Before(signals[j].SignalTime)
	})

	c.mu.Lock()
	c.signals = signals
	c.mu.Unlock()

	c.logger.Info("Loaded cusum signal cache", "signals", len(signals), "skipped", skipped)
	return nil
}

// resolveColumns maps canonical column names to indices in the header row,
// case-insensitively and through the alias table. The first header cell may
// carry a UTF-8 BOM.
func resolveColumns(header []string) (map[string]int, error) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	index := make(map[string]int, len(cusumAliases))
	for canonical, aliases := range cusumAliases {
		found := false
		for _, alias := range aliases {
			if i, ok := byName[alias]; ok {
				index[canonical] = i
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("cusum csv is missing column %q (aliases: %s)",
				canonical, strings.Join(cusumAliases[canonical], ", "))
		}
	}
	return index, nil
}

func parseCusumRow(row []string, index map[string]int) (*CusumSignal, error) {
	cell := func(name string) string {
		i := index[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	signalTime, err := parseCusumTime(cell("signal_time"))
	if err != nil {
		return nil, fmt.Errorf("invalid signal_time: %w", err)
	}
	expiration, err := parseCusumTime(cell("expiration_time"))
	if err != nil {
		return nil, fmt.Errorf("invalid expiration_time: %w", err)
	}
	foldID, err := strconv.Atoi(cell("fold_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid fold_id %q", cell("fold_id"))
	}
	confidence, err := strconv.ParseFloat(cell("confidence"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid confidence %q", cell("confidence"))
	}
	threshold, err := strconv.ParseFloat(cell("threshold"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid threshold %q", cell("threshold"))
	}
	selectivity, err := strconv.ParseFloat(cell("cusum_selectivity_pct"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cusum_selectivity_pct %q", cell("cusum_selectivity_pct"))
	}
	weight, err := strconv.ParseFloat(cell("suggested_weight"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid suggested_weight %q", cell("suggested_weight"))
	}
	entryRef, err := decimal.NewFromString(cell("entry_price_ref"))
	if err != nil {
		return nil, fmt.Errorf("invalid entry_price_ref %q", cell("entry_price_ref"))
	}
	takeProfit, err := decimal.NewFromString(cell("take_profit_price"))
	if err != nil {
		return nil, fmt.Errorf("invalid take_profit_price %q", cell("take_profit_price"))
	}
	stopLoss, err := decimal.NewFromString(cell("stop_loss_price"))
	if err != nil {
		return nil, fmt.Errorf("invalid stop_loss_price %q", cell("stop_loss_price"))
	}
	actualDirection, err := strconv.Atoi(cell("actual_direction"))
	if err != nil {
		return nil, fmt.Errorf("invalid actual_direction %q", cell("actual_direction"))
	}
	correct, err := parseBoolCell(cell("correct"))
	if err != nil {
		return nil, fmt.Errorf("invalid correct %q", cell("correct"))
	}

	return &CusumSignal{
		SignalTime:      signalTime,
		Strategy:        cell("strategy"),
		Model:           cell("model"),
		FoldID:          foldID,
		PrimarySignal:   cell("primary_signal"),
		MLPrediction:    cell("ml_prediction"),
		FinalAction:     cell("final_action"),
		Confidence:      confidence,
		Threshold:       threshold,
		SelectivityPct:  selectivity,
		SuggestedWeight: weight,
		EntryPriceRef:   entryRef,
		TakeProfitPrice: takeProfit,
		StopLossPrice:   stopLoss,
		ExpirationTime:  expiration,
		ActualDirection: actualDirection,
		Correct:         correct,
	}, nil
}

func parseCusumTime(s string) (time.Time, error) {
	for _, layout := range cusumTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, folds.KST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

// All returns a copy of every cached signal in time order.
func (c *CusumCache) All() []CusumSignal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CusumSignal, len(c.signals))
	copy(out, c.signals)
	return out
}

// BuySignals returns the cached signals whose final action is BUY, optionally
// filtered to one strategy, model and fold. Empty strategy/model and fold 0
// mean "any".
func (c *CusumCache) BuySignals(strategy, model string, fold int) []CusumSignal {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []CusumSignal
	for _, s := range c.signals {
		if !strings.EqualFold(s.FinalAction, "BUY") {
			continue
		}
		if strategy != "" && !strings.EqualFold(s.Strategy, strategy) {
			continue
		}
		if model != "" && !strings.EqualFold(s.Model, model) {
			continue
		}
		if fold != 0 && s.FoldID != fold {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Strategies returns the distinct strategy names, sorted.
func (c *CusumCache) Strategies() []string {
	return c.distinct(func(s CusumSignal) string { return s.Strategy })
}

// Models returns the distinct model names, sorted.
func (c *CusumCache) Models() []string {
	return c.distinct(func(s CusumSignal) string { return s.Model })
}

func (c *CusumCache) distinct(key func(CusumSignal) string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	for _, s := range c.signals {
		seen[key(s)] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Folds returns the distinct fold ids, sorted.
func (c *CusumCache) Folds() []int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[int]bool)
	for _, s := range c.signals {
		seen[s.FoldID] = true
	}
	out := make([]int, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// DateRange returns the earliest and latest signal times, or zero times when
// the cache is empty.
func (c *CusumCache) DateRange() (time.Time, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.signals) == 0 {
		return time.Time{}, time.Time{}
	}
	return c.signals[0].SignalTime, c.signals[len(c.signals)-1].SignalTime
}

// Summary aggregates counts and accuracy over the cache.
func (c *CusumCache) Summary() CusumSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := CusumSummary{
		TotalSignals: len(c.signals),
		ByStrategy:   make(map[string]int),
		ByModel:      make(map[string]int),
		ByFold:       make(map[int]int),
	}
	correct := 0
	for _, s := range c.signals {
		summary.ByStrategy[s.Strategy]++
		summary.ByModel[s.Model]++
		summary.ByFold[s.FoldID]++
		if s.Correct {
			correct++
		}
		if strings.EqualFold(s.FinalAction, "BUY") {
			summary.TotalBuy++
			if s.Correct {
				summary.CorrectBuy++
			}
		}
	}
	if summary.TotalSignals > 0 {
		summary.OverallAccuracy = float64(correct) / float64(summary.TotalSignals)
	}
	return summary
}
