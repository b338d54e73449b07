// Package domain contains the cross-platform identity mapping model.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Platform names an external system that carries its own user identifier.
type Platform string

const (
	PlatformBilling Platform = "billing"
	PlatformCRM     Platform = "crm"
	PlatformVoice   Platform = "voice"
)

// Known reports whether the platform is one the resolver accepts.
func (p Platform) Known() bool {
	switch p {
	case PlatformBilling, PlatformCRM, PlatformVoice:
		return true
	default:
		return false
	}
}

// Identity binds one external identifier to the canonical internal user.
// The unique index enforces that an external id maps to at most one
// internal id per platform; the internal id never changes once minted.
type Identity struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	UserID     snowflake.ID `gorm:"not null;index"`
	Platform   Platform     `gorm:"type:text;not null;uniqueIndex:ux_identities_platform_external,priority:1"`
	ExternalID string       `gorm:"type:text;not null;uniqueIndex:ux_identities_platform_external,priority:2"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Identity) TableName() string { return "identities" }
