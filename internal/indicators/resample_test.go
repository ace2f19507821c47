package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucket4h(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"exact bucket start",
			time.Date(2024, 3, 10, 9, 0, 0, 0, kst),
			time.Date(2024, 3, 10, 9, 0, 0, 0, kst),
		},
		{
			"inside bucket",
			time.Date(2024, 3, 10, 12, 59, 0, 0, kst),
			time.Date(2024, 3, 10, 9, 0, 0, 0, kst),
		},
		{
			"first bucket of day",
			time.Date(2024, 3, 10, 1, 0, 0, 0, kst),
			time.Date(2024, 3, 10, 1, 0, 0, 0, kst),
		},
		{
			"midnight rolls to previous day",
			time.Date(2024, 3, 10, 0, 30, 0, 0, kst),
			time.Date(2024, 3, 9, 21, 0, 0, 0, kst),
		},
		{
			"last bucket",
			time.Date(2024, 3, 10, 23, 59, 0, 0, kst),
			time.Date(2024, 3, 10, 21, 0, 0, 0, kst),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Bucket4h(tt.in).Equal(tt.want), "got %v", Bucket4h(tt.in))
		})
	}
}

func TestResampleTo4h(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	at := func(h, m int) time.Time {
		return time.Date(2024, 3, 10, h, m, 0, 0, kst)
	}

	minutes := []Bar{
		{Timestamp: at(9, 0), Open: 100, High: 105, Low: 99, Close: 101, Volume: 1},
		{Timestamp: at(9, 30), Open: 101, High: 110, Low: 100, Close: 108, Volume: 2},
		{Timestamp: at(12, 59), Open: 108, High: 109, Low: 95, Close: 96, Volume: 3},
		{Timestamp: at(13, 0), Open: 96, High: 97, Low: 94, Close: 95, Volume: 4},
	}

	bars := ResampleTo4h(minutes)
	require.Len(t, bars, 2)

	first := bars[0]
	assert.True(t, first.Timestamp.Equal(at(9, 0)))
	assert.Equal(t, 100.0, first.Open)
	assert.Equal(t, 110.0, first.High)
	assert.Equal(t, 95.0, first.Low)
	assert.Equal(t, 96.0, first.Close)
	assert.Equal(t, 6.0, first.Volume)

	second := bars[1]
	assert.True(t, second.Timestamp.Equal(at(13, 0)))
	assert.Equal(t, 96.0, second.Open)
	assert.Equal(t, 95.0, second.Close)
}

func TestResampleTo4hEmpty(t *testing.T) {
	assert.Nil(t, ResampleTo4h(nil))
}
