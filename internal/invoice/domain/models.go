// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "DRAFT"
	InvoiceStatusOpen  InvoiceStatus = "OPEN"
	InvoiceStatusPaid  InvoiceStatus = "PAID"
	InvoiceStatusVoid  InvoiceStatus = "VOID"
)

// Invoice is one user's bill for one month, derived entirely from the
// ledger. Regeneration overwrites every derived column but keeps the
// invoice number, so references handed out to billing systems stay
// valid.
type Invoice struct {
	ID               snowflake.ID  `gorm:"primaryKey"`
	Number           string        `gorm:"type:text;not null;uniqueIndex:ux_invoices_number"`
	UserID           snowflake.ID  `gorm:"not null;uniqueIndex:ux_invoices_user_month,priority:1"`
	BillingMonth     string        `gorm:"type:text;not null;uniqueIndex:ux_invoices_user_month,priority:2"`
	Plan             string        `gorm:"type:text;not null"`
	Status           InvoiceStatus `gorm:"type:text;not null;default:'DRAFT'"`
	TotalCalls       int64         `gorm:"not null;default:0"`
	AssistantMinutes int64         `gorm:"not null;default:0"`
	WorkflowMinutes  int64         `gorm:"not null;default:0"`
	TotalMinutes     int64         `gorm:"not null;default:0"`
	IncludedMinutes  int64         `gorm:"not null;default:0"`
	OverageMinutes   int64         `gorm:"not null;default:0"`
	OverageRate      float64       `gorm:"not null;default:0"`
	AssistantCost    float64       `gorm:"not null;default:0"`
	WorkflowCost     float64       `gorm:"not null;default:0"`
	TotalCost        float64       `gorm:"not null;default:0"`
	Currency         string        `gorm:"type:text;not null"`
	GeneratedAt      time.Time     `gorm:"not null"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time     `gorm:"autoUpdateTime"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }
