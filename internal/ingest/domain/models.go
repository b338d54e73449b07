// Package domain contains the webhook event shapes accepted from the
// voice platform and the parking table for events that could not be
// attributed to a user.
package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Wire event types delivered by the voice platform.
const (
	EventCallStarted      = "CallStarted"
	EventCallEnded        = "CallEnded"
	EventWorkflowExecuted = "WorkflowExecuted"
)

// CanonicalEventType maps a wire type name onto the canonical constant.
// Older integrations deliver dotted lowercase names; both spellings are
// accepted. Unknown names pass through unchanged.
func CanonicalEventType(raw string) string {
	switch strings.TrimSpace(raw) {
	case EventCallStarted, "call.started":
		return EventCallStarted
	case EventCallEnded, "call.ended":
		return EventCallEnded
	case EventWorkflowExecuted, "workflow.executed":
		return EventWorkflowExecuted
	default:
		return strings.TrimSpace(raw)
	}
}

// VoiceEvent is the webhook payload. Cost is a pointer so an explicit
// zero from the platform is distinguishable from an absent value.
type VoiceEvent struct {
	ID              string                 `json:"id"`
	Type            string                 `json:"type"`
	AssistantID     string                 `json:"assistantId"`
	StartedAt       time.Time              `json:"startedAt"`
	EndedAt         time.Time              `json:"endedAt"`
	DurationSeconds int64                  `json:"durationSeconds"`
	Cost            *float64               `json:"cost,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts the platform's camelCase keys alongside the
// snake_case keys older deliveries carry, and normalizes the type name.
func (e *VoiceEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID              string                 `json:"id"`
		Type            string                 `json:"type"`
		AssistantID     string                 `json:"assistantId"`
		AssistantIDAlt  string                 `json:"assistant_id"`
		StartedAt       time.Time              `json:"startedAt"`
		StartedAtAlt    time.Time              `json:"started_at"`
		EndedAt         time.Time              `json:"endedAt"`
		EndedAtAlt      time.Time              `json:"ended_at"`
		DurationSeconds *int64                 `json:"durationSeconds"`
		DurationAlt     *int64                 `json:"duration_seconds"`
		Cost            *float64               `json:"cost"`
		Metadata        map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	e.ID = wire.ID
	e.Type = CanonicalEventType(wire.Type)
	e.AssistantID = wire.AssistantID
	if e.AssistantID == "" {
		e.AssistantID = wire.AssistantIDAlt
	}
	e.StartedAt = wire.StartedAt
	if e.StartedAt.IsZero() {
		e.StartedAt = wire.StartedAtAlt
	}
	e.EndedAt = wire.EndedAt
	if e.EndedAt.IsZero() {
		e.EndedAt = wire.EndedAtAlt
	}
	e.DurationSeconds = 0
	if wire.DurationSeconds != nil {
		e.DurationSeconds = *wire.DurationSeconds
	} else if wire.DurationAlt != nil {
		e.DurationSeconds = *wire.DurationAlt
	}
	e.Cost = wire.Cost
	e.Metadata = wire.Metadata
	return nil
}

// UnattributedEvent parks a billable event whose owner could not be
// resolved. The payload is kept verbatim so the event can be replayed
// once the missing identity or assistant mapping appears.
type UnattributedEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	CallID      string            `gorm:"type:text;not null;uniqueIndex:ux_unattributed_events_call"`
	EventType   string            `gorm:"type:text;not null"`
	AssistantID string            `gorm:"type:text;index"`
	Reason      string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb"`
	ResolvedTo  snowflake.ID      `gorm:"default:0"`
	ProcessedAt *time.Time        `gorm:"index"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UnattributedEvent) TableName() string { return "unattributed_events" }
