package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxmeter/voxmeter/internal/billing"
	"github.com/voxmeter/voxmeter/internal/clock"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
	ingestdomain "github.com/voxmeter/voxmeter/internal/ingest/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	"github.com/voxmeter/voxmeter/internal/limits"
	"github.com/voxmeter/voxmeter/internal/observability/metrics"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"

	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Identity  identitydomain.Service
	Directory directorydomain.Service
	Ledger    ledgerdomain.Service
	Snapshot  snapshotdomain.Service
	Alerts    alertdomain.Service
	Limits    *limits.Table
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	identity  identitydomain.Service
	directory directorydomain.Service
	ledger    ledgerdomain.Service
	snapshot  snapshotdomain.Service
	alerts    alertdomain.Service
	limits    *limits.Table
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) ingestdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ingest.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		identity:  p.Identity,
		directory: p.Directory,
		ledger:    p.Ledger,
		snapshot:  p.Snapshot,
		alerts:    p.Alerts,
		limits:    p.Limits,
		metrics:   p.Metrics,
	}
}

// HandleEvent processes one webhook delivery. Billable events land in
// the ledger exactly once per call id; everything else reaches a
// terminal state (logged, ignored, or parked as unattributed) so the
// platform can be acked and will not retry forever.
func (s *Service) HandleEvent(ctx context.Context, event ingestdomain.VoiceEvent) (ingestdomain.Result, error) {
	event.Type = ingestdomain.CanonicalEventType(event.Type)

	switch event.Type {
	case ingestdomain.EventCallStarted:
		s.log.Info("call started",
			zap.String("call_id", event.ID),
			zap.String("assistant_id", event.AssistantID),
		)
		return ingestdomain.Result{Status: ingestdomain.StatusLogged}, nil
	case ingestdomain.EventCallEnded, ingestdomain.EventWorkflowExecuted:
	default:
		s.log.Info("ignoring unknown event type",
			zap.String("event_type", event.Type),
			zap.String("call_id", event.ID),
		)
		return ingestdomain.Result{Status: ingestdomain.StatusIgnored}, nil
	}

	if strings.TrimSpace(event.ID) == "" {
		return ingestdomain.Result{}, ingestdomain.ErrInvalidEvent
	}
	if event.DurationSeconds < 0 {
		return ingestdomain.Result{}, ingestdomain.ErrInvalidDuration
	}

	userID, err := s.resolveOwner(ctx, event)
	if err != nil {
		return ingestdomain.Result{}, err
	}
	if userID == 0 {
		return s.parkUnattributed(ctx, event)
	}

	return s.ingest(ctx, userID, event)
}

// resolveOwner attributes the event. The platform user id in metadata
// wins; the assistant registry is the fallback. Zero means no owner.
func (s *Service) resolveOwner(ctx context.Context, event ingestdomain.VoiceEvent) (snowflake.ID, error) {
	if externalID := metadataString(event.Metadata, "user_id", "userId"); externalID != "" {
		userID, err := s.identity.Resolve(ctx, identitydomain.PlatformVoice, externalID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, identitydomain.ErrNotFound) {
			return 0, err
		}
	}

	if assistantID := strings.TrimSpace(event.AssistantID); assistantID != "" {
		userID, err := s.directory.ResolveAssistantOwner(ctx, assistantID)
		if err == nil {
			return userID, nil
		}
		if !errors.Is(err, directorydomain.ErrAssistantNotFound) {
			return 0, err
		}
	}

	return 0, nil
}

func (s *Service) ingest(ctx context.Context, userID snowflake.ID, event ingestdomain.VoiceEvent) (ingestdomain.Result, error) {
	channel := eventChannel(event)
	minutes := ledgerdomain.MinutesFromSeconds(event.DurationSeconds)

	startedAt := event.StartedAt
	if startedAt.IsZero() {
		startedAt = s.clock.Now()
	}
	endedAt := event.EndedAt
	if endedAt.IsZero() {
		endedAt = startedAt
	}
	month := ledgerdomain.BillingMonthOf(startedAt)

	cost := billing.RecordCost(minutes, string(channel), s.limits.Rates())
	if event.Cost != nil {
		cost = *event.Cost
	}

	record := &ledgerdomain.UsageRecord{
		UserID:          userID,
		CallID:          event.ID,
		AssistantID:     event.AssistantID,
		Channel:         channel,
		StartedAt:       startedAt.UTC(),
		EndedAt:         endedAt.UTC(),
		DurationSeconds: event.DurationSeconds,
		DurationMinutes: minutes,
		Cost:            cost,
		BillingMonth:    month,
		Metadata:        event.Metadata,
	}

	before, lim, err := s.usageBefore(ctx, userID, month)
	if err != nil {
		return ingestdomain.Result{}, err
	}

	inserted, err := s.ledger.Append(ctx, record)
	if err != nil {
		return ingestdomain.Result{}, err
	}
	if !inserted {
		s.metrics.RecordDuplicateEvent(ctx, event.Type)
		s.log.Info("duplicate event delivery",
			zap.String("call_id", event.ID),
			zap.String("user_id", userID.String()),
		)
		return ingestdomain.Result{Status: ingestdomain.StatusDuplicate, UserID: userID}, nil
	}

	delta := snapshotdomain.UsageDelta{
		UserID:       userID,
		BillingMonth: month,
		Minutes:      minutes,
		Cost:         cost,
		OccurredAt:   record.StartedAt,
	}
	if channel == ledgerdomain.ChannelWorkflow {
		delta.WorkflowMinutes = minutes
	} else {
		delta.AssistantMinutes = minutes
	}
	if err := s.snapshot.ApplyUsage(ctx, delta); err != nil {
		// The ledger row is durable; the snapshot heals on rebuild.
		s.log.Error("snapshot update failed after ledger append",
			zap.Error(err),
			zap.String("call_id", event.ID),
			zap.String("user_id", userID.String()),
		)
	}

	s.emitCrossings(ctx, userID, month, lim, before, before+minutes)
	s.metrics.RecordEventIngested(ctx, event.Type)

	return ingestdomain.Result{
		Status:          ingestdomain.StatusAccepted,
		UserID:          userID,
		DurationMinutes: minutes,
		Cost:            cost,
	}, nil
}

// usageBefore reads the counters this event is about to increment,
// so threshold crossings can be detected as before/after transitions.
func (s *Service) usageBefore(ctx context.Context, userID snowflake.ID, month string) (int64, limits.UsageLimits, error) {
	plan := ""
	account, err := s.directory.GetAccount(ctx, userID)
	if err != nil && !errors.Is(err, directorydomain.ErrAccountNotFound) {
		return 0, limits.UsageLimits{}, err
	}
	if account != nil {
		plan = account.Plan
	}
	lim := s.limits.LimitsFor(plan)

	snap, err := s.snapshot.Get(ctx, userID)
	if err != nil {
		return 0, lim, err
	}
	if snap.BillingMonth != month {
		return 0, lim, nil
	}
	return snap.MonthlyMinutes, lim, nil
}

func (s *Service) emitCrossings(ctx context.Context, userID snowflake.ID, month string, lim limits.UsageLimits, beforeMinutes, afterMinutes int64) {
	crossing := alertdomain.Crossing{
		UserID:       userID,
		BillingMonth: month,
		Plan:         lim.Plan,
		Before:       limits.Evaluate(beforeMinutes, lim),
		After:        limits.Evaluate(afterMinutes, lim),
	}
	if _, err := s.alerts.RecordCrossing(ctx, crossing); err != nil {
		s.log.Warn("alert emission failed",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
	}
}

func (s *Service) parkUnattributed(ctx context.Context, event ingestdomain.VoiceEvent) (ingestdomain.Result, error) {
	payload := map[string]interface{}{}
	if raw, err := json.Marshal(event); err == nil {
		_ = json.Unmarshal(raw, &payload)
	}

	row := &ingestdomain.UnattributedEvent{
		ID:          s.genID.Generate(),
		CallID:      event.ID,
		EventType:   event.Type,
		AssistantID: event.AssistantID,
		Reason:      "owner_not_resolved",
		Payload:     payload,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return ingestdomain.Result{}, result.Error
	}
	if result.RowsAffected > 0 {
		s.metrics.RecordUnattributedEvent(ctx, event.Type)
		s.log.Warn("event parked as unattributed",
			zap.String("call_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("assistant_id", event.AssistantID),
		)
	}
	return ingestdomain.Result{Status: ingestdomain.StatusUnattributed}, nil
}

// ReprocessUnattributed replays parked events against the current
// identity and assistant mappings. Events that resolve are ingested
// through the normal path; its call id idempotency makes the replay
// safe to run repeatedly.
func (s *Service) ReprocessUnattributed(ctx context.Context, batchSize int) (ingestdomain.ReprocessReport, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	rows := []ingestdomain.UnattributedEvent{}
	err := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(batchSize).
		Find(&rows).Error
	if err != nil {
		return ingestdomain.ReprocessReport{}, err
	}

	report := ingestdomain.ReprocessReport{Scanned: len(rows)}
	for _, row := range rows {
		event, err := eventFromPayload(row)
		if err != nil {
			s.log.Warn("unattributed payload unreadable",
				zap.Error(err),
				zap.String("call_id", row.CallID),
			)
			report.Skipped++
			continue
		}

		userID, err := s.resolveOwner(ctx, event)
		if err != nil {
			return report, err
		}
		if userID == 0 {
			report.Skipped++
			continue
		}

		if _, err := s.ingest(ctx, userID, event); err != nil {
			return report, err
		}

		now := s.clock.Now()
		err = s.db.WithContext(ctx).
			Model(&ingestdomain.UnattributedEvent{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"resolved_to":  userID,
				"processed_at": now,
			}).Error
		if err != nil {
			return report, err
		}
		report.Resolved++
	}
	return report, nil
}

func (s *Service) ListUnattributed(ctx context.Context, limit int) ([]ingestdomain.UnattributedEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows := []ingestdomain.UnattributedEvent{}
	err := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func eventChannel(event ingestdomain.VoiceEvent) ledgerdomain.Channel {
	if event.Type == ingestdomain.EventWorkflowExecuted {
		return ledgerdomain.ChannelWorkflow
	}
	if metadataString(event.Metadata, "channel") == string(ledgerdomain.ChannelWorkflow) {
		return ledgerdomain.ChannelWorkflow
	}
	return ledgerdomain.ChannelAssistant
}

func eventFromPayload(row ingestdomain.UnattributedEvent) (ingestdomain.VoiceEvent, error) {
	var event ingestdomain.VoiceEvent
	raw, err := json.Marshal(map[string]interface{}(row.Payload))
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		return event, err
	}
	if event.ID == "" {
		event.ID = row.CallID
	}
	if event.Type == "" {
		event.Type = row.EventType
	}
	event.Type = ingestdomain.CanonicalEventType(event.Type)
	return event, nil
}

func metadataString(metadata map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if value, ok := metadata[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
