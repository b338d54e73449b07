package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	ResolveAssistantOwner(ctx context.Context, assistantID string) (snowflake.ID, error)
	RegisterAssistant(ctx context.Context, assistantID string, userID snowflake.ID, name string) error
	GetAccount(ctx context.Context, userID snowflake.ID) (*Account, error)
	UpsertAccount(ctx context.Context, account Account) error
}

var (
	ErrInvalidAssistant  = errors.New("invalid_assistant")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrAssistantNotFound = errors.New("assistant_not_found")
	ErrAccountNotFound   = errors.New("account_not_found")
)
