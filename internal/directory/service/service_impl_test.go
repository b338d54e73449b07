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

	"github.com/voxmeter/voxmeter/internal/cache"
	"github.com/voxmeter/voxmeter/internal/clock"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
)

func newTestService(t *testing.T) (directorydomain.Service, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&directorydomain.Assistant{}, &directorydomain.Account{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:            db,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         clock.NewFakeClock(time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)),
		ResolverCache: cache.NewOwnerResolverCache(),
	})
	return svc, node
}

func TestRegisterAndResolveAssistant(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	require.NoError(t, svc.RegisterAssistant(ctx, "asst_1", userID, "Support Bot"))

	owner, err := svc.ResolveAssistantOwner(ctx, "asst_1")
	require.NoError(t, err)
	assert.Equal(t, userID, owner)

	_, err = svc.ResolveAssistantOwner(ctx, "asst_unknown")
	assert.ErrorIs(t, err, directorydomain.ErrAssistantNotFound)
}

func TestRegisterAssistantReassignsOwner(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()

	first := node.Generate()
	second := node.Generate()

	require.NoError(t, svc.RegisterAssistant(ctx, "asst_1", first, "Bot"))

	// Resolve once so the cache holds the first owner, then reassign.
	owner, err := svc.ResolveAssistantOwner(ctx, "asst_1")
	require.NoError(t, err)
	assert.Equal(t, first, owner)

	require.NoError(t, svc.RegisterAssistant(ctx, "asst_1", second, "Bot"))

	owner, err = svc.ResolveAssistantOwner(ctx, "asst_1")
	require.NoError(t, err)
	assert.Equal(t, second, owner)
}

func TestRegisterAssistantValidation(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.RegisterAssistant(ctx, " ", node.Generate(), "Bot"), directorydomain.ErrInvalidAssistant)
	assert.ErrorIs(t, svc.RegisterAssistant(ctx, "asst_1", 0, "Bot"), directorydomain.ErrInvalidUser)
}

func TestAccountUpsertAndGet(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	subscribedAt := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, svc.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "starter",
		SubscribedAt: subscribedAt,
	}))

	account, err := svc.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "starter", account.Plan)

	// Plan upgrades overwrite in place.
	require.NoError(t, svc.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "growth",
		SubscribedAt: subscribedAt,
	}))

	account, err = svc.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "growth", account.Plan)

	_, err = svc.GetAccount(ctx, node.Generate())
	assert.ErrorIs(t, err, directorydomain.ErrAccountNotFound)
}

func TestAccountTimestampsFollowClock(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&directorydomain.Assistant{}, &directorydomain.Account{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{DB: db, Log: zap.NewNop(), GenID: node, Clock: fake})

	ctx := context.Background()
	userID := node.Generate()
	require.NoError(t, svc.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "starter",
		SubscribedAt: fake.Now(),
	}))

	account, err := svc.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.WithinDuration(t, fake.Now(), account.UpdatedAt, time.Second)

	fake.Advance(48 * time.Hour)
	require.NoError(t, svc.UpsertAccount(ctx, directorydomain.Account{
		UserID:       userID,
		Plan:         "growth",
		SubscribedAt: account.SubscribedAt,
	}))

	account, err = svc.GetAccount(ctx, userID)
	require.NoError(t, err)
	assert.WithinDuration(t, fake.Now(), account.UpdatedAt, time.Second)
}
