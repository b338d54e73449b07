package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"

	"github.com/voxmeter/voxmeter/internal/limits"
)

// Crossing describes a usage transition observed by the ingest path.
type Crossing struct {
	UserID       snowflake.ID
	BillingMonth string
	Plan         string
	Before       limits.Evaluation
	After        limits.Evaluation
}

// Notifier delivers a freshly created alert. Delivery failures are
// logged, never propagated; the alert row is the durable record.
type Notifier interface {
	Notify(ctx context.Context, alert UsageAlert)
}

// Service turns usage transitions into persisted alerts.
type Service interface {
	// RecordCrossing persists one alert per threshold level the
	// transition crossed and returns the alerts actually created.
	RecordCrossing(ctx context.Context, crossing Crossing) ([]UsageAlert, error)
	List(ctx context.Context, userID snowflake.ID, month string) ([]UsageAlert, error)
}

var (
	ErrInvalidUser  = errors.New("alert_invalid_user")
	ErrInvalidMonth = errors.New("alert_invalid_month")
)
