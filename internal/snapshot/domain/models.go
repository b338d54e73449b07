// Package domain contains the per-user usage snapshot, a derived
// cache of current-month counters that dashboards read without
// touching the ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UserUsageSnapshot holds running counters for a single user's
// current billing month. It is a cache over the ledger and can be
// rebuilt from it at any time.
type UserUsageSnapshot struct {
	UserID           snowflake.ID `gorm:"primaryKey"`
	BillingMonth     string       `gorm:"type:text;not null;index"`
	MonthlyMinutes   int64        `gorm:"not null;default:0"`
	TotalCalls       int64        `gorm:"not null;default:0"`
	AssistantMinutes int64        `gorm:"not null;default:0"`
	WorkflowMinutes  int64        `gorm:"not null;default:0"`
	MonthlyCost      float64      `gorm:"not null;default:0"`
	LastResetAt      time.Time    `gorm:"not null"`
	LastActivityAt   time.Time    `gorm:"not null"`
	UpdatedAt        time.Time    `gorm:"autoUpdateTime"`
}

// TableName sets the database table name.
func (UserUsageSnapshot) TableName() string { return "user_usage_snapshots" }
