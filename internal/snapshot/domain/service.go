package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageDelta is one billed interaction's contribution to the
// snapshot counters.
type UsageDelta struct {
	UserID           snowflake.ID
	BillingMonth     string
	Minutes          int64
	AssistantMinutes int64
	WorkflowMinutes  int64
	Cost             float64
	OccurredAt       time.Time
}

// Service maintains the snapshot cache. ApplyUsage is atomic with
// respect to concurrent deltas for the same user; a stale row from a
// previous month is reset and restarted in the same statement.
type Service interface {
	ApplyUsage(ctx context.Context, delta UsageDelta) error
	Get(ctx context.Context, userID snowflake.ID) (*UserUsageSnapshot, error)
	Rebuild(ctx context.Context, userID snowflake.ID, month string) (*UserUsageSnapshot, error)
	ResetStale(ctx context.Context, month string, batchSize int) (int, error)
}

var (
	ErrInvalidUser  = errors.New("snapshot_invalid_user")
	ErrInvalidMonth = errors.New("snapshot_invalid_month")
	ErrInvalidDelta = errors.New("snapshot_invalid_delta")
)
