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
	identitydomain "github.com/voxmeter/voxmeter/internal/identity/domain"
	"github.com/voxmeter/voxmeter/pkg/repository"
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	ResolverCache cache.OwnerResolverCache `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	identityrepo  repository.Repository[identitydomain.Identity]
	resolverCache cache.OwnerResolverCache
}

func NewService(p ServiceParam) identitydomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("identity.service"),

		genID:         p.GenID,
		identityrepo:  repository.ProvideStore[identitydomain.Identity](p.DB),
		resolverCache: p.ResolverCache,
	}
}

func (s *Service) Resolve(ctx context.Context, platform identitydomain.Platform, externalID string) (snowflake.ID, error) {
	externalID = strings.TrimSpace(externalID)
	if !platform.Known() {
		return 0, identitydomain.ErrInvalidPlatform
	}
	if externalID == "" {
		return 0, identitydomain.ErrInvalidExternalID
	}

	if s.resolverCache != nil {
		if userID, ok := s.resolverCache.GetIdentity(string(platform), externalID); ok {
			return userID, nil
		}
	}

	row, err := s.identityrepo.FindOne(ctx, &identitydomain.Identity{
		Platform:   platform,
		ExternalID: externalID,
	})
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, identitydomain.ErrNotFound
	}

	if s.resolverCache != nil {
		s.resolverCache.SetIdentity(string(platform), externalID, row.UserID)
	}
	return row.UserID, nil
}

// Bind is idempotent for an identical binding and fails with
// ErrConflict when the external id already belongs to another user.
// The write races on the unique index, not on a read-then-insert.
func (s *Service) Bind(ctx context.Context, userID snowflake.ID, platform identitydomain.Platform, externalID string) error {
	externalID = strings.TrimSpace(externalID)
	if userID == 0 {
		return identitydomain.ErrInvalidUser
	}
	if !platform.Known() {
		return identitydomain.ErrInvalidPlatform
	}
	if externalID == "" {
		return identitydomain.ErrInvalidExternalID
	}

	row := &identitydomain.Identity{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Platform:   platform,
		ExternalID: externalID,
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Conflict on the unique index: accept only the same binding.
	existing, err := s.identityrepo.FindOne(ctx, &identitydomain.Identity{
		Platform:   platform,
		ExternalID: externalID,
	})
	if err != nil {
		return err
	}
	if existing == nil || existing.UserID != userID {
		s.log.Warn("identity bind conflict",
			zap.String("platform", string(platform)),
			zap.String("external_id", externalID),
		)
		return identitydomain.ErrConflict
	}
	return nil
}

func (s *Service) ListByUser(ctx context.Context, userID snowflake.ID) ([]identitydomain.Identity, error) {
	if userID == 0 {
		return nil, identitydomain.ErrInvalidUser
	}
	items, err := s.identityrepo.Find(ctx, &identitydomain.Identity{UserID: userID})
	if err != nil {
		return nil, err
	}
	rows := make([]identitydomain.Identity, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		rows = append(rows, *item)
	}
	return rows, nil
}
