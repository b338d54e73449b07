package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type BindRequest struct {
	UserID     string `json:"user_id"`
	Platform   string `json:"platform"`
	ExternalID string `json:"external_id"`
}

// Service resolves and binds external identifiers. It never creates
// users implicitly: binding an identity presumes the internal user
// was minted by the external registration flow.
type Service interface {
	Resolve(ctx context.Context, platform Platform, externalID string) (snowflake.ID, error)
	Bind(ctx context.Context, userID snowflake.ID, platform Platform, externalID string) error
	ListByUser(ctx context.Context, userID snowflake.ID) ([]Identity, error)
}

var (
	ErrInvalidPlatform   = errors.New("invalid_platform")
	ErrInvalidExternalID = errors.New("invalid_external_id")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrNotFound          = errors.New("identity_not_found")
	ErrConflict          = errors.New("identity_conflict")
)
