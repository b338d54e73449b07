package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/voxmeter/voxmeter/pkg/db/pagination"
)

// RangeTotals is the aggregate over an arbitrary time window.
type RangeTotals struct {
	Minutes int64   `json:"minutes"`
	Calls   int64   `json:"calls"`
	Cost    float64 `json:"cost"`
}

// MonthTotals is the aggregate for one billing month, split by
// channel so derived caches can be rebuilt from it.
type MonthTotals struct {
	Minutes          int64     `json:"minutes"`
	Calls            int64     `json:"calls"`
	Cost             float64   `json:"cost"`
	AssistantMinutes int64     `json:"assistant_minutes"`
	WorkflowMinutes  int64     `json:"workflow_minutes"`
	LastStartedAt    time.Time `json:"last_started_at"`
}

// DailyUsage is one day's aggregate within a billing month.
type DailyUsage struct {
	Date    string  `json:"date"`
	Minutes int64   `json:"minutes"`
	Calls   int64   `json:"calls"`
	Cost    float64 `json:"cost"`
}

// AssistantUsage is one assistant's aggregate within a billing month.
type AssistantUsage struct {
	AssistantID string  `json:"assistant_id"`
	Minutes     int64   `json:"minutes"`
	Calls       int64   `json:"calls"`
	Cost        float64 `json:"cost"`
}

type ListUsageRequest struct {
	UserID       string `form:"user_id"`
	BillingMonth string `form:"billing_month"`
	PageToken    string `form:"page_token"`
	PageSize     int32  `form:"page_size"`
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

// Service is the ledger surface: one durable append plus pure,
// re-derivable aggregations. Aggregations never consult the snapshot.
type Service interface {
	// Append writes the record if its callID has not been seen.
	// It reports false, nil on duplicate delivery.
	Append(ctx context.Context, record *UsageRecord) (bool, error)
	AggregateMonth(ctx context.Context, userID snowflake.ID, month string) (MonthTotals, error)
	AggregateDaily(ctx context.Context, userID snowflake.ID, month string) ([]DailyUsage, error)
	AggregateByAssistant(ctx context.Context, userID snowflake.ID, month string) ([]AssistantUsage, error)
	AggregateRange(ctx context.Context, userID snowflake.ID, start, end time.Time) (RangeTotals, error)
	AggregateLifetime(ctx context.Context, userID snowflake.ID) (RangeTotals, error)
	ListUsersWithActivity(ctx context.Context, month string) ([]snowflake.ID, error)
	List(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidMonth  = errors.New("invalid_month")
	ErrInvalidRange  = errors.New("invalid_range")
	ErrInvalidRecord = errors.New("invalid_record")
)
