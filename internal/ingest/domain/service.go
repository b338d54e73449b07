package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Result statuses reported back to the webhook caller. The caller is
// always acked with 200 once the event reached a durable state; the
// status says which state that was.
const (
	StatusAccepted     = "accepted"
	StatusDuplicate    = "duplicate"
	StatusLogged       = "logged"
	StatusIgnored      = "ignored"
	StatusUnattributed = "unattributed"
)

// Result describes what ingestion did with one event.
type Result struct {
	Status          string       `json:"status"`
	UserID          snowflake.ID `json:"user_id,omitempty"`
	DurationMinutes int64        `json:"duration_minutes,omitempty"`
	Cost            float64      `json:"cost,omitempty"`
}

// ReprocessReport summarizes one replay pass over parked events.
type ReprocessReport struct {
	Scanned  int `json:"scanned"`
	Resolved int `json:"resolved"`
	Skipped  int `json:"skipped"`
}

// Service is the write path: webhook events in, ledger rows and
// snapshot counters out.
type Service interface {
	HandleEvent(ctx context.Context, event VoiceEvent) (Result, error)
	ReprocessUnattributed(ctx context.Context, batchSize int) (ReprocessReport, error)
	ListUnattributed(ctx context.Context, limit int) ([]UnattributedEvent, error)
}

var (
	ErrInvalidEvent    = errors.New("invalid_event")
	ErrInvalidDuration = errors.New("invalid_duration")
)
