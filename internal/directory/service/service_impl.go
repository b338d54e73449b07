package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxmeter/voxmeter/internal/cache"
	"github.com/voxmeter/voxmeter/internal/clock"
	directorydomain "github.com/voxmeter/voxmeter/internal/directory/domain"
	"github.com/voxmeter/voxmeter/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	ResolverCache cache.OwnerResolverCache `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	genID         *snowflake.Node
	assistantrepo repository.Repository[directorydomain.Assistant]
	accountrepo   repository.Repository[directorydomain.Account]
	resolverCache cache.OwnerResolverCache
}

func NewService(p ServiceParam) directorydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("directory.service"),
		clock: p.Clock,

		genID:         p.GenID,
		assistantrepo: repository.ProvideStore[directorydomain.Assistant](p.DB),
		accountrepo:   repository.ProvideStore[directorydomain.Account](p.DB),
		resolverCache: p.ResolverCache,
	}
}

func (s *Service) ResolveAssistantOwner(ctx context.Context, assistantID string) (snowflake.ID, error) {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return 0, directorydomain.ErrInvalidAssistant
	}

	if s.resolverCache != nil {
		if userID, ok := s.resolverCache.GetAssistantOwner(assistantID); ok {
			return userID, nil
		}
	}

	row, err := s.assistantrepo.FindOne(ctx, &directorydomain.Assistant{AssistantID: assistantID})
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, directorydomain.ErrAssistantNotFound
	}

	if s.resolverCache != nil {
		s.resolverCache.SetAssistantOwner(assistantID, row.UserID)
	}
	return row.UserID, nil
}

func (s *Service) RegisterAssistant(ctx context.Context, assistantID string, userID snowflake.ID, name string) error {
	assistantID = strings.TrimSpace(assistantID)
	if assistantID == "" {
		return directorydomain.ErrInvalidAssistant
	}
	if userID == 0 {
		return directorydomain.ErrInvalidUser
	}

	now := s.clock.Now()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assistant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "name", "updated_at"}),
		}).
		Create(&directorydomain.Assistant{
			ID:          s.genID.Generate(),
			AssistantID: assistantID,
			UserID:      userID,
			Name:        strings.TrimSpace(name),
			CreatedAt:   now,
			UpdatedAt:   now,
		}).Error
	if err != nil {
		return err
	}

	if s.resolverCache != nil {
		s.resolverCache.InvalidateAssistant(assistantID)
	}
	return nil
}

func (s *Service) GetAccount(ctx context.Context, userID snowflake.ID) (*directorydomain.Account, error) {
	if userID == 0 {
		return nil, directorydomain.ErrInvalidUser
	}
	row, err := s.accountrepo.FindOne(ctx, &directorydomain.Account{UserID: userID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, directorydomain.ErrAccountNotFound
	}
	return row, nil
}

func (s *Service) UpsertAccount(ctx context.Context, account directorydomain.Account) error {
	if account.UserID == 0 {
		return directorydomain.ErrInvalidUser
	}
	account.Plan = strings.TrimSpace(strings.ToLower(account.Plan))
	now := s.clock.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"plan", "subscribed_at", "updated_at"}),
		}).
		Create(&account).Error
}
