package folds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	f, err := Get(3)
	require.NoError(t, err)
	assert.Equal(t, 3, f.Number)
	assert.Equal(t, Bear, f.Regime)
	assert.True(t, f.StartDate.Equal(time.Date(2023, 7, 1, 0, 0, 0, 0, KST)))
	assert.True(t, f.EndDate.Equal(time.Date(2023, 9, 30, 0, 0, 0, 0, KST)))
}

func TestGetOutOfRange(t *testing.T) {
	for _, n := range []int{0, 9, -1} {
		_, err := Get(n)
		assert.Error(t, err, "fold %d", n)
	}
}

func TestAllContiguousQuarters(t *testing.T) {
	all := All()
	require.Len(t, all, 8)

	for i := 1; i < len(all); i++ {
		prevEnd := all[i-1].EndDate
		start := all[i].StartDate
		assert.True(t, start.Equal(prevEnd.AddDate(0, 0, 1)),
			"fold %d should start the day after fold %d ends", all[i].Number, all[i-1].Number)
	}
	assert.True(t, all[0].StartDate.Equal(time.Date(2023, 1, 1, 0, 0, 0, 0, KST)))
	assert.True(t, all[7].EndDate.Equal(time.Date(2024, 12, 31, 0, 0, 0, 0, KST)))
}

func TestEntryAndCloseTime(t *testing.T) {
	f, err := Get(1)
	require.NoError(t, err)
	assert.True(t, f.EntryTime().Equal(time.Date(2023, 1, 1, 9, 0, 0, 0, KST)))
	assert.True(t, f.CloseTime().Equal(time.Date(2023, 3, 31, 23, 59, 0, 0, KST)))
}

func TestTradingOpen(t *testing.T) {
	d := time.Date(2024, 5, 17, 0, 0, 0, 0, KST)
	assert.True(t, TradingOpen(d).Equal(time.Date(2024, 5, 17, 9, 0, 0, 0, KST)))
}

func TestContains(t *testing.T) {
	f, err := Get(2)
	require.NoError(t, err)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"first minute of start date", time.Date(2023, 4, 1, 0, 0, 0, 0, KST), true},
		{"last minute of end date", time.Date(2023, 6, 30, 23, 59, 0, 0, KST), true},
		{"day before", time.Date(2023, 3, 31, 23, 59, 0, 0, KST), false},
		{"day after", time.Date(2023, 7, 1, 0, 0, 0, 0, KST), false},
		{"utc instant inside fold", time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Contains(tt.t))
		})
	}
}
