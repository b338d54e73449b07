package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinutesFromSeconds(t *testing.T) {
	tests := []struct {
		seconds int64
		want    int64
	}{
		{0, 0},
		{-10, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{119, 2},
		{120, 2},
		{121, 3},
		{3600, 60},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MinutesFromSeconds(tt.seconds), "seconds=%d", tt.seconds)
	}
}

func TestBillingMonthOf(t *testing.T) {
	at := time.Date(2026, time.August, 29, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, "2026-08", BillingMonthOf(at))

	// Non-UTC wall time is normalized before bucketing.
	loc := time.FixedZone("UTC+7", 7*3600)
	late := time.Date(2026, time.September, 1, 3, 0, 0, 0, loc)
	assert.Equal(t, "2026-08", BillingMonthOf(late))
}

func TestMonthBounds(t *testing.T) {
	start, end, err := MonthBounds("2026-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = MonthBounds("2026-13")
	assert.ErrorIs(t, err, ErrInvalidMonth)

	_, _, err = MonthBounds("feb-2026")
	assert.ErrorIs(t, err, ErrInvalidMonth)

	_, _, err = MonthBounds("")
	assert.ErrorIs(t, err, ErrInvalidMonth)
}
