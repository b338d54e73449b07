package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/voxmeter/voxmeter/internal/clock"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	ledgerservice "github.com/voxmeter/voxmeter/internal/ledger/service"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

func newTestService(t *testing.T, fake *clock.FakeClock) (snapshotdomain.Service, ledgerdomain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.UsageRecord{}, &snapshotdomain.UserUsageSnapshot{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{DB: db, Log: zap.NewNop(), GenID: node})
	snapSvc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), Clock: fake, Ledger: ledgerSvc})
	return snapSvc, ledgerSvc, node
}

func delta(userID snowflake.ID, month string, minutes int64, cost float64, at time.Time) snapshotdomain.UsageDelta {
	return snapshotdomain.UsageDelta{
		UserID:           userID,
		BillingMonth:     month,
		Minutes:          minutes,
		AssistantMinutes: minutes,
		Cost:             cost,
		OccurredAt:       at,
	}
}

func TestApplyUsageAccumulates(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()
	userID := node.Generate()

	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 3, 0.15, fake.Now())))
	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 2, 0.10, fake.Now().Add(time.Hour))))

	snap, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.MonthlyMinutes)
	assert.Equal(t, int64(2), snap.TotalCalls)
	assert.Equal(t, int64(5), snap.AssistantMinutes)
	assert.InDelta(t, 0.25, snap.MonthlyCost, 1e-9)
	assert.Equal(t, "2026-08", snap.BillingMonth)
}

func TestApplyUsageSplitsChannels(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()
	userID := node.Generate()

	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 3, 0.15, fake.Now())))
	require.NoError(t, svc.ApplyUsage(ctx, snapshotdomain.UsageDelta{
		UserID:          userID,
		BillingMonth:    "2026-08",
		Minutes:         4,
		WorkflowMinutes: 4,
		Cost:            0.12,
		OccurredAt:      fake.Now(),
	}))

	snap, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.MonthlyMinutes)
	assert.Equal(t, int64(3), snap.AssistantMinutes)
	assert.Equal(t, int64(4), snap.WorkflowMinutes)
}

func TestApplyUsageResetsOnNewMonth(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 31, 23, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()
	userID := node.Generate()

	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 50, 2.50, fake.Now())))

	// First delta of September resets the row and starts over.
	fake.Set(time.Date(2026, time.September, 1, 0, 30, 0, 0, time.UTC))
	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-09", 2, 0.10, fake.Now())))

	snap, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "2026-09", snap.BillingMonth)
	assert.Equal(t, int64(2), snap.MonthlyMinutes)
	assert.Equal(t, int64(1), snap.TotalCalls)
	assert.WithinDuration(t, time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC), snap.LastResetAt, time.Second)
}

func TestGetReadsStaleRowAsZero(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()
	userID := node.Generate()

	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 50, 2.50, fake.Now())))

	fake.Set(time.Date(2026, time.September, 2, 8, 0, 0, 0, time.UTC))

	snap, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "2026-09", snap.BillingMonth)
	assert.Zero(t, snap.MonthlyMinutes)
	assert.Zero(t, snap.TotalCalls)
}

func TestGetUnknownUserIsEmpty(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)

	snap, err := svc.Get(context.Background(), node.Generate())
	require.NoError(t, err)
	assert.Equal(t, "2026-08", snap.BillingMonth)
	assert.Zero(t, snap.MonthlyMinutes)
}

func TestRebuildFromLedger(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, ledgerSvc, node := newTestService(t, fake)
	ctx := context.Background()
	userID := node.Generate()

	startedAt := time.Date(2026, time.August, 3, 10, 0, 0, 0, time.UTC)
	records := []*ledgerdomain.UsageRecord{
		{UserID: userID, CallID: "call_1", Channel: ledgerdomain.ChannelAssistant, StartedAt: startedAt, EndedAt: startedAt, DurationSeconds: 300, DurationMinutes: 5, Cost: 0.25},
		{UserID: userID, CallID: "call_2", Channel: ledgerdomain.ChannelWorkflow, StartedAt: startedAt.Add(time.Hour), EndedAt: startedAt.Add(time.Hour), DurationSeconds: 120, DurationMinutes: 2, Cost: 0.06},
	}
	for _, rec := range records {
		_, err := ledgerSvc.Append(ctx, rec)
		require.NoError(t, err)
	}

	// Drift the cache on purpose, then rebuild over it.
	require.NoError(t, svc.ApplyUsage(ctx, delta(userID, "2026-08", 999, 99, fake.Now())))

	snap, err := svc.Rebuild(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(7), snap.MonthlyMinutes)
	assert.Equal(t, int64(2), snap.TotalCalls)
	assert.Equal(t, int64(5), snap.AssistantMinutes)
	assert.Equal(t, int64(2), snap.WorkflowMinutes)
	assert.InDelta(t, 0.31, snap.MonthlyCost, 1e-9)

	stored, err := svc.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), stored.MonthlyMinutes)
}

func TestResetStale(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()

	stale := node.Generate()
	fresh := node.Generate()

	require.NoError(t, svc.ApplyUsage(ctx, delta(stale, "2026-07", 10, 0.50, time.Date(2026, time.July, 20, 0, 0, 0, 0, time.UTC))))
	require.NoError(t, svc.ApplyUsage(ctx, delta(fresh, "2026-08", 5, 0.25, fake.Now())))

	reset, err := svc.ResetStale(ctx, "2026-08", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	snap, err := svc.Get(ctx, stale)
	require.NoError(t, err)
	assert.Zero(t, snap.MonthlyMinutes)
	assert.Equal(t, "2026-08", snap.BillingMonth)

	snap, err = svc.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(5), snap.MonthlyMinutes)

	// Second pass finds nothing left to reset.
	reset, err = svc.ResetStale(ctx, "2026-08", 100)
	require.NoError(t, err)
	assert.Zero(t, reset)
}

func TestApplyUsageValidation(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC))
	svc, _, node := newTestService(t, fake)
	ctx := context.Background()

	err := svc.ApplyUsage(ctx, delta(0, "2026-08", 1, 0.05, fake.Now()))
	assert.ErrorIs(t, err, snapshotdomain.ErrInvalidUser)

	err = svc.ApplyUsage(ctx, delta(node.Generate(), "bad-month", 1, 0.05, fake.Now()))
	assert.ErrorIs(t, err, snapshotdomain.ErrInvalidMonth)

	bad := delta(node.Generate(), "2026-08", -1, 0.05, fake.Now())
	assert.ErrorIs(t, svc.ApplyUsage(ctx, bad), snapshotdomain.ErrInvalidDelta)
}
