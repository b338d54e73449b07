// Package domain contains persisted usage alerts. An alert records
// the moment a user's monthly usage crossed a plan threshold.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Level identifies which threshold was crossed.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelExceeded Level = "exceeded"
)

// UsageAlert is one threshold crossing. The unique index makes each
// level fire at most once per user and month, however many duplicate
// deliveries race past the threshold.
type UsageAlert struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_alerts_user_month_level,priority:1"`
	BillingMonth string       `gorm:"type:text;not null;uniqueIndex:ux_usage_alerts_user_month_level,priority:2"`
	Level        Level        `gorm:"type:text;not null;uniqueIndex:ux_usage_alerts_user_month_level,priority:3"`
	Plan         string       `gorm:"type:text;not null"`
	MinutesUsed  int64        `gorm:"not null"`
	PercentUsed  float64      `gorm:"not null"`
	Message      string       `gorm:"type:text"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageAlert) TableName() string { return "usage_alerts" }
