// Package domain contains the read-mostly directory the metering
// engine consults for event attribution: which assistant belongs to
// which user, and what plan the user is on. Rows are maintained by the
// external registration and provisioning flows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Assistant maps a voice-platform assistant to its owning user.
type Assistant struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	AssistantID string       `gorm:"type:text;not null;uniqueIndex:ux_assistants_assistant_id"`
	UserID      snowflake.ID `gorm:"not null;index"`
	Name        string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Assistant) TableName() string { return "assistants" }

// Account carries the billing-relevant attributes of a user.
type Account struct {
	UserID       snowflake.ID `gorm:"primaryKey"`
	Plan         string       `gorm:"type:text;not null"`
	SubscribedAt time.Time    `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
