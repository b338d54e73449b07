package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/pkg/db/option"
	"github.com/voxmeter/voxmeter/pkg/db/pagination"
	"github.com/voxmeter/voxmeter/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	ledgerrepo repository.Repository[ledgerdomain.UsageRecord]
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("ledger.service"),

		genID:      p.GenID,
		ledgerrepo: repository.ProvideStore[ledgerdomain.UsageRecord](p.DB),
	}
}

// Append inserts the record with a single conditional write keyed on
// callID. Concurrent duplicate deliveries race on the unique index,
// never on an application-level existence check.
func (s *Service) Append(ctx context.Context, record *ledgerdomain.UsageRecord) (bool, error) {
	if record == nil || record.UserID == 0 {
		return false, ledgerdomain.ErrInvalidRecord
	}
	if strings.TrimSpace(record.CallID) == "" {
		return false, ledgerdomain.ErrInvalidRecord
	}
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.BillingMonth == "" {
		record.BillingMonth = ledgerdomain.BillingMonthOf(record.StartedAt)
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// AggregateMonth totals one billing month with a per-channel split.
// The snapshot cache rebuilds itself from this shape.
func (s *Service) AggregateMonth(ctx context.Context, userID snowflake.ID, month string) (ledgerdomain.MonthTotals, error) {
	if userID == 0 {
		return ledgerdomain.MonthTotals{}, ledgerdomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return ledgerdomain.MonthTotals{}, err
	}

	var totals ledgerdomain.MonthTotals
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(duration_minutes), 0) AS minutes,
		        COUNT(*) AS calls,
		        COALESCE(SUM(cost), 0) AS cost,
		        COALESCE(SUM(CASE WHEN channel = ? THEN duration_minutes ELSE 0 END), 0) AS assistant_minutes,
		        COALESCE(SUM(CASE WHEN channel = ? THEN duration_minutes ELSE 0 END), 0) AS workflow_minutes
		 FROM usage_records
		 WHERE user_id = ? AND billing_month = ?`,
		ledgerdomain.ChannelAssistant, ledgerdomain.ChannelWorkflow, userID, month,
	).Scan(&totals).Error
	if err != nil {
		return ledgerdomain.MonthTotals{}, err
	}

	if totals.Calls > 0 {
		var last ledgerdomain.UsageRecord
		err = s.db.WithContext(ctx).
			Where("user_id = ? AND billing_month = ?", userID, month).
			Order("started_at DESC").
			First(&last).Error
		if err != nil {
			return ledgerdomain.MonthTotals{}, err
		}
		totals.LastStartedAt = last.StartedAt
	}
	return totals, nil
}

func (s *Service) AggregateDaily(ctx context.Context, userID snowflake.ID, month string) ([]ledgerdomain.DailyUsage, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, err
	}

	rows := []ledgerdomain.DailyUsage{}
	err := s.db.WithContext(ctx).Raw(
		`SELECT `+s.dayExpr()+` AS date,
		        COALESCE(SUM(duration_minutes), 0) AS minutes,
		        COUNT(*) AS calls,
		        COALESCE(SUM(cost), 0) AS cost
		 FROM usage_records
		 WHERE user_id = ? AND billing_month = ?
		 GROUP BY `+s.dayExpr()+`
		 ORDER BY date ASC`,
		userID, month,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Service) AggregateByAssistant(ctx context.Context, userID snowflake.ID, month string) ([]ledgerdomain.AssistantUsage, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, err
	}

	rows := []ledgerdomain.AssistantUsage{}
	err := s.db.WithContext(ctx).Raw(
		`SELECT assistant_id,
		        COALESCE(SUM(duration_minutes), 0) AS minutes,
		        COUNT(*) AS calls,
		        COALESCE(SUM(cost), 0) AS cost
		 FROM usage_records
		 WHERE user_id = ? AND billing_month = ? AND assistant_id <> ''
		 GROUP BY assistant_id
		 ORDER BY minutes DESC`,
		userID, month,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AggregateRange totals usage over an inclusive window compared
// against each record's start time.
func (s *Service) AggregateRange(ctx context.Context, userID snowflake.ID, start, end time.Time) (ledgerdomain.RangeTotals, error) {
	if userID == 0 {
		return ledgerdomain.RangeTotals{}, ledgerdomain.ErrInvalidUser
	}
	if end.Before(start) {
		return ledgerdomain.RangeTotals{}, ledgerdomain.ErrInvalidRange
	}

	var totals ledgerdomain.RangeTotals
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(duration_minutes), 0) AS minutes,
		        COUNT(*) AS calls,
		        COALESCE(SUM(cost), 0) AS cost
		 FROM usage_records
		 WHERE user_id = ? AND started_at >= ? AND started_at <= ?`,
		userID, start.UTC(), end.UTC(),
	).Scan(&totals).Error
	if err != nil {
		return ledgerdomain.RangeTotals{}, err
	}
	return totals, nil
}

func (s *Service) AggregateLifetime(ctx context.Context, userID snowflake.ID) (ledgerdomain.RangeTotals, error) {
	if userID == 0 {
		return ledgerdomain.RangeTotals{}, ledgerdomain.ErrInvalidUser
	}

	var totals ledgerdomain.RangeTotals
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(duration_minutes), 0) AS minutes,
		        COUNT(*) AS calls,
		        COALESCE(SUM(cost), 0) AS cost
		 FROM usage_records
		 WHERE user_id = ?`,
		userID,
	).Scan(&totals).Error
	if err != nil {
		return ledgerdomain.RangeTotals{}, err
	}
	return totals, nil
}

func (s *Service) ListUsersWithActivity(ctx context.Context, month string) ([]snowflake.ID, error) {
	if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
		return nil, err
	}

	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id FROM usage_records WHERE billing_month = ? ORDER BY user_id ASC`,
		month,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Service) List(ctx context.Context, req ledgerdomain.ListUsageRequest) (ledgerdomain.ListUsageResponse, error) {
	filter := &ledgerdomain.UsageRecord{}
	if strings.TrimSpace(req.UserID) != "" {
		userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
		if err != nil || userID == 0 {
			return ledgerdomain.ListUsageResponse{}, ledgerdomain.ErrInvalidUser
		}
		filter.UserID = userID
	}
	if month := strings.TrimSpace(req.BillingMonth); month != "" {
		if _, _, err := ledgerdomain.MonthBounds(month); err != nil {
			return ledgerdomain.ListUsageResponse{}, err
		}
		filter.BillingMonth = month
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.ledgerrepo.Find(ctx, filter,
		option.ApplyPagination(pagination.Pagination{
			PageToken: req.PageToken,
			PageSize:  int(pageSize),
		}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}}),
	)
	if err != nil {
		return ledgerdomain.ListUsageResponse{}, err
	}
	return buildListResponse(items, pageSize), nil
}

func (s *Service) dayExpr() string {
	switch strings.ToLower(s.db.Dialector.Name()) {
	case "postgres":
		return "to_char(started_at, 'YYYY-MM-DD')"
	case "mysql":
		return "DATE_FORMAT(started_at, '%Y-%m-%d')"
	default:
		return "strftime('%Y-%m-%d', started_at)"
	}
}

func buildListResponse(items []*ledgerdomain.UsageRecord, pageSize int32) ledgerdomain.ListUsageResponse {
	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(record *ledgerdomain.UsageRecord) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        record.ID.String(),
			CreatedAt: record.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	records := make([]ledgerdomain.UsageRecord, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		records = append(records, *item)
	}

	resp := ledgerdomain.ListUsageResponse{UsageRecords: records}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp
}
