// Package domain contains persistence models for the usage ledger,
// the engine's append-only source of truth.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Channel identifies how a billed interaction was produced.
type Channel string

const (
	ChannelAssistant Channel = "assistant"
	ChannelWorkflow  Channel = "workflow"
)

// UsageRecord stores a single billed call or workflow execution.
// Records are immutable once written and are never deleted.
type UsageRecord struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	UserID          snowflake.ID      `gorm:"not null;index:ix_usage_records_user_month,priority:1"`
	CallID          string            `gorm:"type:text;not null;uniqueIndex:ux_usage_records_call_id"`
	AssistantID     string            `gorm:"type:text;index"`
	Channel         Channel           `gorm:"type:text;not null"`
	StartedAt       time.Time         `gorm:"not null;index"`
	EndedAt         time.Time         `gorm:"not null"`
	DurationSeconds int64             `gorm:"not null"`
	DurationMinutes int64             `gorm:"not null"`
	Cost            float64           `gorm:"not null"`
	BillingMonth    string            `gorm:"type:text;not null;index:ix_usage_records_user_month,priority:2"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
