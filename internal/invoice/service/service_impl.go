package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxmeter/voxmeter/internal/billing"
	"github.com/voxmeter/voxmeter/internal/clock"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	invoicedomain "github.com/voxmeter/voxmeter/internal/invoice/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/internal/limits"
	"github.com/voxmeter/voxmeter/internal/observability/metrics"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Directory directorydomain.Service
	Ledger    ledgerdomain.Service
	Limits    *limits.Table
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	directory directorydomain.Service
	ledger    ledgerdomain.Service
	limits    *limits.Table
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("invoice.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		directory: p.Directory,
		ledger:    p.Ledger,
		limits:    p.Limits,
		metrics:   p.Metrics,
	}
}

// Generate prices one user's month from the ledger and upserts the
// invoice. Derived columns are overwritten on regeneration; the row
// id, invoice number, and lifecycle status survive.
func (s *Service) Generate(ctx context.Context, userID snowflake.ID, month string) (*invoicedomain.Invoice, error) {
	if userID == 0 {
		return nil, invoicedomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, invoicedomain.ErrInvalidMonth
	}

	plan := ""
	account, err := s.directory.GetAccount(ctx, userID)
	if err != nil && !errors.Is(err, directorydomain.ErrAccountNotFound) {
		return nil, err
	}
	if account != nil {
		plan = account.Plan
	}
	lim := s.limits.LimitsFor(plan)

	totals, err := s.ledger.AggregateMonth(ctx, userID, month)
	if err != nil {
		return nil, err
	}

	info := billing.ComputeCost(totals.AssistantMinutes, totals.WorkflowMinutes, lim, s.limits.Rates())

	row := &invoicedomain.Invoice{
		ID:               s.genID.Generate(),
		Number:           "INV-" + ulid.Make().String(),
		UserID:           userID,
		BillingMonth:     month,
		Plan:             lim.Plan,
		Status:           invoicedomain.InvoiceStatusDraft,
		TotalCalls:       totals.Calls,
		AssistantMinutes: totals.AssistantMinutes,
		WorkflowMinutes:  totals.WorkflowMinutes,
		TotalMinutes:     totals.Minutes,
		IncludedMinutes:  lim.MonthlyMinuteLimit,
		OverageMinutes:   info.OverageMinutes,
		OverageRate:      info.OverageRate,
		AssistantCost:    info.AssistantCost,
		WorkflowCost:     info.WorkflowCost,
		TotalCost:        info.TotalCost,
		Currency:         info.Currency,
		GeneratedAt:      s.clock.Now(),
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "billing_month"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan", "total_calls", "assistant_minutes", "workflow_minutes",
				"total_minutes", "included_minutes", "overage_minutes",
				"overage_rate", "assistant_cost", "workflow_cost", "total_cost",
				"currency", "generated_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		s.metrics.RecordInvoiceGeneration(ctx, "error")
		return nil, err
	}

	// Re-read so a regeneration returns the stored number and status
	// rather than the candidate values of this attempt.
	stored, err := s.Get(ctx, userID, month)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordInvoiceGeneration(ctx, "success")
	s.log.Info("invoice generated",
		zap.String("user_id", userID.String()),
		zap.String("billing_month", month),
		zap.String("number", stored.Number),
		zap.Float64("total_cost", stored.TotalCost),
	)
	return stored, nil
}

// GenerateAll invoices every user with ledger activity in the month.
// A failing user is reported and skipped, never fatal to the batch.
func (s *Service) GenerateAll(ctx context.Context, month string) (invoicedomain.BatchResult, error) {
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return invoicedomain.BatchResult{}, invoicedomain.ErrInvalidMonth
	}

	users, err := s.ledger.ListUsersWithActivity(ctx, month)
	if err != nil {
		return invoicedomain.BatchResult{}, err
	}

	result := invoicedomain.BatchResult{BillingMonth: month}
	for _, userID := range users {
		inv, err := s.Generate(ctx, userID, month)
		if err != nil {
			s.log.Warn("invoice generation failed",
				zap.Error(err),
				zap.String("user_id", userID.String()),
				zap.String("billing_month", month),
			)
			result.Failed = append(result.Failed, invoicedomain.BatchFailure{
				UserID: userID,
				Error:  err.Error(),
			})
			continue
		}
		result.Generated = append(result.Generated, *inv)
	}
	return result, nil
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID, month string) (*invoicedomain.Invoice, error) {
	if userID == 0 {
		return nil, invoicedomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, invoicedomain.ErrInvalidMonth
	}

	var row invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND billing_month = ?", userID, month).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invoicedomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) ListByMonth(ctx context.Context, month string) ([]invoicedomain.Invoice, error) {
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, invoicedomain.ErrInvalidMonth
	}

	rows := []invoicedomain.Invoice{}
	err := s.db.WithContext(ctx).
		Where("billing_month = ?", month).
		Order("user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
