package domain

import (
	"fmt"
	"time"
)

// MinutesFromSeconds converts a call duration to billed minutes.
// Any positive duration rounds up to at least one minute; only a
// true zero stays zero. Every call site must go through this helper.
func MinutesFromSeconds(seconds int64) int64 {
	if seconds <= 0 {
		return 0
	}
	return (seconds + 59) / 60
}

// BillingMonthOf buckets a timestamp into its calendar month key.
func BillingMonthOf(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// MonthBounds returns the inclusive start and exclusive end of a
// billing month key such as "2025-01".
func MonthBounds(month string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01", month, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidMonth, month)
	}
	return start, start.AddDate(0, 1, 0), nil
}
