package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxmeter/voxmeter/internal/clock"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Ledger ledgerdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	ledger ledgerdomain.Service
}

func NewService(p ServiceParam) snapshotdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("snapshot.service"),
		clock:  p.Clock,
		ledger: p.Ledger,
	}
}

// ApplyUsage folds one delta into the user's snapshot row with a
// single upsert. The CASE guards compare the stored billing month
// against the delta's month, so a row left over from a previous month
// is reset and restarted by the same statement that increments a
// current one. Assignment order matters: billing_month is written
// last because MySQL evaluates SET clauses left to right.
func (s *Service) ApplyUsage(ctx context.Context, delta snapshotdomain.UsageDelta) error {
	if delta.UserID == 0 {
		return snapshotdomain.ErrInvalidUser
	}
	if delta.Minutes < 0 || delta.Cost < 0 {
		return snapshotdomain.ErrInvalidDelta
	}
	monthStart, _, err := ledgerdomain.MonthBounds(delta.BillingMonth)
	if err != nil {
		return snapshotdomain.ErrInvalidMonth
	}

	month := delta.BillingMonth
	occurredAt := delta.OccurredAt.UTC()

	row := &snapshotdomain.UserUsageSnapshot{
		UserID:           delta.UserID,
		BillingMonth:     month,
		MonthlyMinutes:   delta.Minutes,
		TotalCalls:       1,
		AssistantMinutes: delta.AssistantMinutes,
		WorkflowMinutes:  delta.WorkflowMinutes,
		MonthlyCost:      delta.Cost,
		LastResetAt:      monthStart,
		LastActivityAt:   occurredAt,
	}

	sets := []clause.Assignment{
		{Column: clause.Column{Name: "monthly_minutes"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN monthly_minutes + ? ELSE ? END", month, delta.Minutes, delta.Minutes)},
		{Column: clause.Column{Name: "total_calls"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN total_calls + 1 ELSE 1 END", month)},
		{Column: clause.Column{Name: "assistant_minutes"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN assistant_minutes + ? ELSE ? END", month, delta.AssistantMinutes, delta.AssistantMinutes)},
		{Column: clause.Column{Name: "workflow_minutes"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN workflow_minutes + ? ELSE ? END", month, delta.WorkflowMinutes, delta.WorkflowMinutes)},
		{Column: clause.Column{Name: "monthly_cost"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN monthly_cost + ? ELSE ? END", month, delta.Cost, delta.Cost)},
		{Column: clause.Column{Name: "last_reset_at"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? THEN last_reset_at ELSE ? END", month, monthStart)},
		{Column: clause.Column{Name: "last_activity_at"}, Value: gorm.Expr(
			"CASE WHEN billing_month = ? AND last_activity_at > ? THEN last_activity_at ELSE ? END", month, occurredAt, occurredAt)},
		{Column: clause.Column{Name: "billing_month"}, Value: month},
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: sets,
		}).
		Create(row).Error
}

// Get returns the user's current-month counters. A row carried over
// from a previous month reads as zero; the stored row is reset on the
// next write, not here.
func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*snapshotdomain.UserUsageSnapshot, error) {
	if userID == 0 {
		return nil, snapshotdomain.ErrInvalidUser
	}

	month := ledgerdomain.BillingMonthOf(s.clock.Now())

	var row snapshotdomain.UserUsageSnapshot
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && row.BillingMonth != month) {
		return s.emptySnapshot(userID, month), nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Rebuild recomputes the snapshot for one user and month from the
// ledger and overwrites whatever the cache held.
func (s *Service) Rebuild(ctx context.Context, userID snowflake.ID, month string) (*snapshotdomain.UserUsageSnapshot, error) {
	if userID == 0 {
		return nil, snapshotdomain.ErrInvalidUser
	}
	monthStart, _, err := ledgerdomain.MonthBounds(month)
	if err != nil {
		return nil, snapshotdomain.ErrInvalidMonth
	}

	totals, err := s.ledger.AggregateMonth(ctx, userID, month)
	if err != nil {
		return nil, err
	}

	lastActivity := totals.LastStartedAt
	if lastActivity.IsZero() {
		lastActivity = monthStart
	}

	row := &snapshotdomain.UserUsageSnapshot{
		UserID:           userID,
		BillingMonth:     month,
		MonthlyMinutes:   totals.Minutes,
		TotalCalls:       totals.Calls,
		AssistantMinutes: totals.AssistantMinutes,
		WorkflowMinutes:  totals.WorkflowMinutes,
		MonthlyCost:      totals.Cost,
		LastResetAt:      monthStart,
		LastActivityAt:   lastActivity,
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"billing_month", "monthly_minutes", "total_calls",
				"assistant_minutes", "workflow_minutes", "monthly_cost",
				"last_reset_at", "last_activity_at",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ResetStale zeroes up to batchSize rows still pointing at a prior
// billing month. Returns how many rows were reset.
func (s *Service) ResetStale(ctx context.Context, month string, batchSize int) (int, error) {
	monthStart, _, err := ledgerdomain.MonthBounds(month)
	if err != nil {
		return 0, snapshotdomain.ErrInvalidMonth
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	var ids []snowflake.ID
	err = s.db.WithContext(ctx).
		Model(&snapshotdomain.UserUsageSnapshot{}).
		Where("billing_month < ?", month).
		Order("user_id ASC").
		Limit(batchSize).
		Pluck("user_id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).
		Model(&snapshotdomain.UserUsageSnapshot{}).
		Where("user_id IN ? AND billing_month < ?", ids, month).
		Updates(map[string]interface{}{
			"billing_month":     month,
			"monthly_minutes":   0,
			"total_calls":       0,
			"assistant_minutes": 0,
			"workflow_minutes":  0,
			"monthly_cost":      0,
			"last_reset_at":     monthStart,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (s *Service) emptySnapshot(userID snowflake.ID, month string) *snapshotdomain.UserUsageSnapshot {
	monthStart, _, _ := ledgerdomain.MonthBounds(month)
	return &snapshotdomain.UserUsageSnapshot{
		UserID:       userID,
		BillingMonth: month,
		LastResetAt:  monthStart,
	}
}
