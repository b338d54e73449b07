package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	alertdomain "github.com/voxmeter/voxmeter/internal/alerts/domain"
	alertservice "github.com/voxmeter/voxmeter/internal/alerts/service"
	"github.com/voxmeter/voxmeter/internal/cache"
	"github.com/voxmeter/voxmeter/internal/clock"
	"github.com/voxmeter/voxmeter/internal/config"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	directoryservice "github.com/voxmeter/voxmeter/internal/directory/service"
	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
	identityservice "github.com/voxmeter/voxmeter/internal/identity/service"
	ingestdomain "github.com/voxmeter/voxmeter/internal/ingest/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	ledgerservice "github.com/voxmeter/voxmeter/internal/ledger/service"
	"github.com/voxmeter/voxmeter/internal/limits"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
	snapshotservice "github.com/voxmeter/voxmeter/internal/snapshot/service"
)

type fixture struct {
	svc       ingestdomain.Service
	identity  identitydomain.Service
	directory directorydomain.Service
	ledger    ledgerdomain.Service
	snapshot  snapshotdomain.Service
	alerts    alertdomain.Service
	clock     *clock.FakeClock
	node      *snowflake.Node
	db        *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&identitydomain.Identity{},
		&directorydomain.Assistant{},
		&directorydomain.Account{},
		&ledgerdomain.UsageRecord{},
		&snapshotdomain.UserUsageSnapshot{},
		&alertdomain.UsageAlert{},
		&ingestdomain.UnattributedEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	table := limits.NewTable(config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()))
	resolverCache := cache.NewOwnerResolverCache()

	identitySvc := identityservice.NewService(identityservice.ServiceParam{
		DB: db, Log: log, GenID: node, ResolverCache: resolverCache,
	})
	directorySvc := directoryservice.NewService(directoryservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake, ResolverCache: resolverCache,
	})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{DB: db, Log: log, GenID: node})
	snapshotSvc := snapshotservice.NewService(snapshotservice.ServiceParam{
		DB: db, Log: log, Clock: fake, Ledger: ledgerSvc,
	})
	alertSvc := alertservice.NewService(alertservice.ServiceParam{
		DB: db, Log: log, GenID: node, Notifier: alertservice.NewLogNotifier(log),
	})

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Identity:  identitySvc,
		Directory: directorySvc,
		Ledger:    ledgerSvc,
		Snapshot:  snapshotSvc,
		Alerts:    alertSvc,
		Limits:    table,
	})

	return &fixture{
		svc:       svc,
		identity:  identitySvc,
		directory: directorySvc,
		ledger:    ledgerSvc,
		snapshot:  snapshotSvc,
		alerts:    alertSvc,
		clock:     fake,
		node:      node,
		db:        db,
	}
}

func (f *fixture) registerOwner(t *testing.T, assistantID string) snowflake.ID {
	t.Helper()
	userID := f.node.Generate()
	require.NoError(t, f.directory.RegisterAssistant(context.Background(), assistantID, userID, "support bot"))
	return userID
}

func callEnded(callID, assistantID string, seconds int64, at time.Time) ingestdomain.VoiceEvent {
	return ingestdomain.VoiceEvent{
		ID:              callID,
		Type:            ingestdomain.EventCallEnded,
		AssistantID:     assistantID,
		StartedAt:       at,
		EndedAt:         at.Add(time.Duration(seconds) * time.Second),
		DurationSeconds: seconds,
	}
}

func TestCallEndedIngested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")

	result, err := f.svc.HandleEvent(ctx, callEnded("call_1", "asst_1", 300, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.Equal(t, userID, result.UserID)
	assert.Equal(t, int64(5), result.DurationMinutes)
	assert.InDelta(t, 0.25, result.Cost, 1e-9)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.MonthlyMinutes)
	assert.Equal(t, int64(5), snap.AssistantMinutes)
	assert.Equal(t, int64(1), snap.TotalCalls)
}

func TestPlatformWirePayloadDecoded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")

	payload := []byte(`{"type":"CallEnded","id":"call_wire_1","assistantId":"asst_1","durationSeconds":125}`)
	var event ingestdomain.VoiceEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, ingestdomain.EventCallEnded, event.Type)
	assert.Equal(t, "asst_1", event.AssistantID)
	assert.Equal(t, int64(125), event.DurationSeconds)

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.Equal(t, userID, result.UserID)
	assert.Equal(t, int64(3), result.DurationMinutes)
}

func TestDottedEventNamesStillAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerOwner(t, "asst_1")

	payload := []byte(`{"type":"call.ended","id":"call_wire_2","assistant_id":"asst_1","duration_seconds":61}`)
	var event ingestdomain.VoiceEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, ingestdomain.EventCallEnded, event.Type)
	assert.Equal(t, "asst_1", event.AssistantID)

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.Equal(t, int64(2), result.DurationMinutes)
}

func TestShortCallSequenceStaysSafe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")
	require.NoError(t, f.directory.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "starter",
		SubscribedAt: f.clock.Now(),
	}))

	for _, call := range []struct {
		id      string
		seconds int64
	}{
		{"call_1", 125},
		{"call_2", 61},
		{"call_3", 59},
	} {
		result, err := f.svc.HandleEvent(ctx, callEnded(call.id, "asst_1", call.seconds, f.clock.Now()))
		require.NoError(t, err)
		assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	}

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), snap.MonthlyMinutes)
	assert.Equal(t, int64(3), snap.TotalCalls)

	table := limits.NewTable(config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()))
	eval := limits.Evaluate(snap.MonthlyMinutes, table.LimitsFor("starter"))
	assert.Equal(t, limits.StatusSafe, eval.Status)

	alerts, err := f.alerts.List(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDuplicateDeliveryCountedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")
	event := callEnded("call_dup", "asst_1", 180, f.clock.Now())

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)

	// The platform retries the same delivery. Nothing is double counted.
	result, err = f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusDuplicate, result.Status)
	assert.Equal(t, userID, result.UserID)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.MonthlyMinutes)
	assert.Equal(t, int64(1), snap.TotalCalls)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.UsageRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCallStartedLoggedOnly(t *testing.T) {
	f := newFixture(t)
	f.registerOwner(t, "asst_1")

	result, err := f.svc.HandleEvent(context.Background(), ingestdomain.VoiceEvent{
		ID:          "call_live",
		Type:        ingestdomain.EventCallStarted,
		AssistantID: "asst_1",
	})
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusLogged, result.Status)

	var count int64
	require.NoError(t, f.db.Model(&ledgerdomain.UsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.HandleEvent(context.Background(), ingestdomain.VoiceEvent{
		ID:   "call_x",
		Type: "call.transferred",
	})
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusIgnored, result.Status)
}

func TestZeroDurationAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")

	result, err := f.svc.HandleEvent(ctx, callEnded("call_zero", "asst_1", 0, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.Zero(t, result.DurationMinutes)
	assert.Zero(t, result.Cost)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, snap.MonthlyMinutes)
	assert.Equal(t, int64(1), snap.TotalCalls)
}

func TestNegativeDurationRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleEvent(context.Background(), callEnded("call_neg", "asst_1", -30, f.clock.Now()))
	assert.ErrorIs(t, err, ingestdomain.ErrInvalidDuration)
}

func TestWorkflowEventBilledAtWorkflowRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")

	result, err := f.svc.HandleEvent(ctx, ingestdomain.VoiceEvent{
		ID:              "wf_1",
		Type:            ingestdomain.EventWorkflowExecuted,
		AssistantID:     "asst_1",
		StartedAt:       f.clock.Now(),
		DurationSeconds: 240,
	})
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.Equal(t, int64(4), result.DurationMinutes)
	assert.InDelta(t, 0.12, result.Cost, 1e-9)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snap.WorkflowMinutes)
	assert.Zero(t, snap.AssistantMinutes)
}

func TestMetadataChannelRoutesToWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")

	event := callEnded("call_wf", "asst_1", 120, f.clock.Now())
	event.Metadata = map[string]interface{}{"channel": "workflow"}

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)
	assert.InDelta(t, 0.06, result.Cost, 1e-9)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.WorkflowMinutes)
}

func TestExplicitCostWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerOwner(t, "asst_1")

	cost := 1.23
	event := callEnded("call_cost", "asst_1", 300, f.clock.Now())
	event.Cost = &cost

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.InDelta(t, 1.23, result.Cost, 1e-9)
}

func TestMetadataUserIDWinsOverAssistant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assistantOwner := f.registerOwner(t, "asst_1")
	boundUser := f.node.Generate()
	require.NoError(t, f.identity.Bind(ctx, boundUser, identitydomain.PlatformVoice, "vox_user_9"))

	event := callEnded("call_meta", "asst_1", 60, f.clock.Now())
	event.Metadata = map[string]interface{}{"user_id": "vox_user_9"}

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, boundUser, result.UserID)
	assert.NotEqual(t, assistantOwner, result.UserID)
}

func TestUnattributedParkedAndReplayed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event := callEnded("call_orphan", "asst_unknown", 300, f.clock.Now())

	result, err := f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusUnattributed, result.Status)

	// Retried deliveries of the same orphan park once.
	result, err = f.svc.HandleEvent(ctx, event)
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusUnattributed, result.Status)

	parked, err := f.svc.ListUnattributed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "call_orphan", parked[0].CallID)
	assert.Equal(t, "owner_not_resolved", parked[0].Reason)

	// No owner yet, so the replay skips it.
	report, err := f.svc.ReprocessUnattributed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Skipped)

	userID := f.registerOwner(t, "asst_unknown")

	report, err = f.svc.ReprocessUnattributed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)

	snap, err := f.snapshot.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.MonthlyMinutes)

	// The parked row is resolved, so nothing is left to scan.
	report, err = f.svc.ReprocessUnattributed(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)

	parked, err = f.svc.ListUnattributed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, parked)
}

func TestThresholdCrossingEmitsAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.registerOwner(t, "asst_1")
	require.NoError(t, f.directory.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "starter",
		SubscribedAt: f.clock.Now(),
	}))

	// 399 of the starter plan's 500 minutes already used.
	require.NoError(t, f.snapshot.ApplyUsage(ctx, snapshotdomain.UsageDelta{
		UserID:           userID,
		BillingMonth:     "2026-08",
		Minutes:          399,
		AssistantMinutes: 399,
		Cost:             19.95,
		OccurredAt:       f.clock.Now(),
	}))

	result, err := f.svc.HandleEvent(ctx, callEnded("call_warn", "asst_1", 120, f.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, ingestdomain.StatusAccepted, result.Status)

	alerts, err := f.alerts.List(ctx, userID, "2026-08")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, alertdomain.LevelWarning, alerts[0].Level)
	assert.Equal(t, "starter", alerts[0].Plan)

	// The next event keeps the same status and stays quiet.
	_, err = f.svc.HandleEvent(ctx, callEnded("call_warn_2", "asst_1", 60, f.clock.Now()))
	require.NoError(t, err)

	alerts, err = f.alerts.List(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestBlankCallIDRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleEvent(context.Background(), ingestdomain.VoiceEvent{
		Type:            ingestdomain.EventCallEnded,
		ID:              "   ",
		DurationSeconds: 60,
	})
	assert.ErrorIs(t, err, ingestdomain.ErrInvalidEvent)
}
