package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// BatchResult reports one invoicing run over all active users.
// Failures are per-user; one bad account never aborts the batch.
type BatchResult struct {
	BillingMonth string         `json:"billing_month"`
	Generated    []Invoice      `json:"generated"`
	Failed       []BatchFailure `json:"failed,omitempty"`
}

type BatchFailure struct {
	UserID snowflake.ID `json:"user_id"`
	Error  string       `json:"error"`
}

// Service derives invoices from the ledger. Generation is
// deterministic for a frozen month: same ledger, same invoice.
type Service interface {
	Generate(ctx context.Context, userID snowflake.ID, month string) (*Invoice, error)
	GenerateAll(ctx context.Context, month string) (BatchResult, error)
	Get(ctx context.Context, userID snowflake.ID, month string) (*Invoice, error)
	ListByMonth(ctx context.Context, month string) ([]Invoice, error)
}

var (
	ErrInvalidUser  = errors.New("invoice_invalid_user")
	ErrInvalidMonth = errors.New("invoice_invalid_month")
	ErrNotFound     = errors.New("invoice_not_found")
)
