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
	"github.com/voxmeter/voxmeter/internal/config"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	directoryservice "github.com/voxmeter/voxmeter/internal/directory/service"
	invoicedomain "github.com/voxmeter/voxmeter/internal/invoice/domain"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	ledgerservice "github.com/voxmeter/voxmeter/internal/ledger/service"
	"github.com/voxmeter/voxmeter/internal/limits"
)

type fixture struct {
	svc       invoicedomain.Service
	directory directorydomain.Service
	ledger    ledgerdomain.Service
	node      *snowflake.Node
	clock     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&directorydomain.Assistant{},
		&directorydomain.Account{},
		&ledgerdomain.UsageRecord{},
		&invoicedomain.Invoice{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2026, time.September, 1, 6, 0, 0, 0, time.UTC))
	table := limits.NewTable(config.NewStaticPlanConfigHolder(config.DefaultPlanConfig()))

	directorySvc := directoryservice.NewService(directoryservice.ServiceParam{DB: db, Log: log, GenID: node, Clock: fake})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{DB: db, Log: log, GenID: node})

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fake,
		Directory: directorySvc,
		Ledger:    ledgerSvc,
		Limits:    table,
	})

	return &fixture{svc: svc, directory: directorySvc, ledger: ledgerSvc, node: node, clock: fake}
}

func (f *fixture) appendUsage(t *testing.T, userID snowflake.ID, callID string, channel ledgerdomain.Channel, minutes int64, at time.Time) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), &ledgerdomain.UsageRecord{
		UserID:          userID,
		CallID:          callID,
		AssistantID:     "asst_1",
		Channel:         channel,
		StartedAt:       at,
		EndedAt:         at.Add(time.Duration(minutes) * time.Minute),
		DurationSeconds: minutes * 60,
		DurationMinutes: minutes,
		Cost:            0,
	})
	require.NoError(t, err)
}

func (f *fixture) subscribe(t *testing.T, userID snowflake.ID, plan string) {
	t.Helper()
	require.NoError(t, f.directory.UpsertAccount(context.Background(), directorydomain.Account{
		UserID:       userID,
		Plan:         plan,
		SubscribedAt: time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func TestGenerateWithinAllowance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.node.Generate()
	f.subscribe(t, userID, "starter")

	at := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	f.appendUsage(t, userID, "call_1", ledgerdomain.ChannelAssistant, 100, at)
	f.appendUsage(t, userID, "call_2", ledgerdomain.ChannelWorkflow, 50, at.Add(time.Hour))

	inv, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "starter", inv.Plan)
	assert.Equal(t, invoicedomain.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, int64(2), inv.TotalCalls)
	assert.Equal(t, int64(100), inv.AssistantMinutes)
	assert.Equal(t, int64(50), inv.WorkflowMinutes)
	assert.Equal(t, int64(150), inv.TotalMinutes)
	assert.Equal(t, int64(500), inv.IncludedMinutes)
	assert.Zero(t, inv.OverageMinutes)
	assert.InDelta(t, 5.00, inv.AssistantCost, 1e-9)
	assert.InDelta(t, 1.50, inv.WorkflowCost, 1e-9)
	assert.InDelta(t, 6.50, inv.TotalCost, 1e-9)
	assert.Equal(t, "USD", inv.Currency)
	assert.Contains(t, inv.Number, "INV-")
}

func TestGenerateWithOverage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.node.Generate()
	f.subscribe(t, userID, "free")

	// 110 assistant minutes against the free plan's 100.
	at := time.Date(2026, time.August, 5, 9, 0, 0, 0, time.UTC)
	f.appendUsage(t, userID, "call_1", ledgerdomain.ChannelAssistant, 110, at)

	inv, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, int64(10), inv.OverageMinutes)
	assert.InDelta(t, 0.15, inv.OverageRate, 1e-9)
	// 100 min at 0.05 plus 10 overage min at 0.15.
	assert.InDelta(t, 6.50, inv.TotalCost, 1e-9)
	assert.InDelta(t, inv.AssistantCost+inv.WorkflowCost, inv.TotalCost, 1e-12)
}

func TestRegenerationKeepsNumberAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.node.Generate()
	f.subscribe(t, userID, "starter")

	at := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	f.appendUsage(t, userID, "call_1", ledgerdomain.ChannelAssistant, 100, at)

	first, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)

	// A late delivery lands after the first run.
	f.appendUsage(t, userID, "call_2", ledgerdomain.ChannelAssistant, 20, at.Add(2*time.Hour))

	second, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Number, second.Number)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, int64(120), second.TotalMinutes)
	assert.InDelta(t, 6.00, second.TotalCost, 1e-9)
}

func TestGenerateNoAccountFailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.node.Generate()

	at := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	f.appendUsage(t, userID, "call_1", ledgerdomain.ChannelAssistant, 110, at)

	// No subscription on record, so the free allowance applies.
	inv, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "free", inv.Plan)
	assert.Equal(t, int64(100), inv.IncludedMinutes)
	assert.Equal(t, int64(10), inv.OverageMinutes)
}

func TestGenerateEmptyMonth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.node.Generate()
	f.subscribe(t, userID, "starter")

	inv, err := f.svc.Generate(ctx, userID, "2026-08")
	require.NoError(t, err)
	assert.Zero(t, inv.TotalMinutes)
	assert.Zero(t, inv.TotalCost)
}

func TestGenerateAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at := time.Date(2026, time.August, 10, 9, 0, 0, 0, time.UTC)
	alpha := f.node.Generate()
	beta := f.node.Generate()
	f.subscribe(t, alpha, "starter")
	f.subscribe(t, beta, "growth")
	f.appendUsage(t, alpha, "call_a", ledgerdomain.ChannelAssistant, 10, at)
	f.appendUsage(t, beta, "call_b", ledgerdomain.ChannelWorkflow, 20, at)

	// Activity in another month stays out of this batch.
	gamma := f.node.Generate()
	f.appendUsage(t, gamma, "call_c", ledgerdomain.ChannelAssistant, 5, at.AddDate(0, -1, 0))

	result, err := f.svc.GenerateAll(ctx, "2026-08")
	require.NoError(t, err)
	assert.Equal(t, "2026-08", result.BillingMonth)
	assert.Len(t, result.Generated, 2)
	assert.Empty(t, result.Failed)

	listed, err := f.svc.ListByMonth(ctx, "2026-08")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), f.node.Generate(), "2026-08")
	assert.ErrorIs(t, err, invoicedomain.ErrNotFound)
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, 0, "2026-08")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidUser)

	_, err = f.svc.Generate(ctx, f.node.Generate(), "2026/08")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidMonth)

	_, err = f.svc.GenerateAll(ctx, "aug")
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidMonth)
}
