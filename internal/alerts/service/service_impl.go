package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/internal/limits"
	"github.com/voxmeter/voxmeter/internal/observability/metrics"
)

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Notifier alertdomain.Notifier
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	notifier alertdomain.Notifier
	metrics  *metrics.Metrics
}

func NewService(p ServiceParam) alertdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("alerts.service"),
		genID:    p.GenID,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

// severity orders statuses so a single event that jumps from safe
// straight past both thresholds still produces both alerts.
func severity(status limits.Status) int {
	switch status {
	case limits.StatusWarning:
		return 1
	case limits.StatusExceeded:
		return 2
	default:
		return 0
	}
}

func (s *Service) RecordCrossing(ctx context.Context, crossing alertdomain.Crossing) ([]alertdomain.UsageAlert, error) {
	if crossing.UserID == 0 {
		return nil, alertdomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(crossing.BillingMonth); err != nil {
		return nil, alertdomain.ErrInvalidMonth
	}

	before := severity(crossing.Before.Status)
	after := severity(crossing.After.Status)
	if after <= before {
		return nil, nil
	}

	var created []alertdomain.UsageAlert
	for _, level := range crossedLevels(before, after) {
		alert := alertdomain.UsageAlert{
			ID:           s.genID.Generate(),
			UserID:       crossing.UserID,
			BillingMonth: crossing.BillingMonth,
			Level:        level,
			Plan:         crossing.Plan,
			MinutesUsed:  crossing.After.MinutesUsed,
			PercentUsed:  crossing.After.PercentUsed,
			Message:      crossing.After.Message,
		}

		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "billing_month"}, {Name: "level"}},
				DoNothing: true,
			}).
			Create(&alert)
		if result.Error != nil {
			return created, result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}

		s.metrics.RecordUsageAlert(ctx, string(level))
		s.log.Warn("usage threshold crossed",
			zap.String("user_id", alert.UserID.String()),
			zap.String("billing_month", alert.BillingMonth),
			zap.String("level", string(level)),
			zap.Int64("minutes_used", alert.MinutesUsed),
			zap.Float64("percent_used", alert.PercentUsed),
		)
		s.notifier.Notify(ctx, alert)
		created = append(created, alert)
	}
	return created, nil
}

func crossedLevels(before, after int) []alertdomain.Level {
	var levels []alertdomain.Level
	if before < 1 && after >= 1 {
		levels = append(levels, alertdomain.LevelWarning)
	}
	if before < 2 && after >= 2 {
		levels = append(levels, alertdomain.LevelExceeded)
	}
	return levels
}

func (s *Service) List(ctx context.Context, userID snowflake.ID, month string) ([]alertdomain.UsageAlert, error) {
	if userID == 0 {
		return nil, alertdomain.ErrInvalidUser
	}

	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if month != "" {
		if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
			return nil, alertdomain.ErrInvalidMonth
		}
		query = query.Where("billing_month = ?", month)
	}

	alerts := []alertdomain.UsageAlert{}
	if err := query.Order("created_at ASC").Find(&alerts).Error; err != nil {
		return nil, err
	}
	return alerts, nil
}
