package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	defaultAssistantTTL = 10 * time.Minute
	defaultIdentityTTL  = 5 * time.Minute
)

// OwnerResolverCache stores hot-path attribution lookups for event ingest.
type OwnerResolverCache interface {
	GetAssistantOwner(assistantID string) (snowflake.ID, bool)
	SetAssistantOwner(assistantID string, userID snowflake.ID)
	GetIdentity(platform, externalID string) (snowflake.ID, bool)
	SetIdentity(platform, externalID string, userID snowflake.ID)
	InvalidateAssistant(assistantID string)
}

type ownerResolverCache struct {
	assistants   Cache[string, snowflake.ID]
	identities   Cache[string, snowflake.ID]
	assistantTTL time.Duration
	identityTTL  time.Duration
}

// NewOwnerResolverCache returns an in-memory cache tuned for event ingest.
func NewOwnerResolverCache() OwnerResolverCache {
	return &ownerResolverCache{
		assistants:   NewTTLCache[string, snowflake.ID](),
		identities:   NewTTLCache[string, snowflake.ID](),
		assistantTTL: defaultAssistantTTL,
		identityTTL:  defaultIdentityTTL,
	}
}

func (c *ownerResolverCache) GetAssistantOwner(assistantID string) (snowflake.ID, bool) {
	return c.assistants.Get(cacheKey("assistant", assistantID))
}

func (c *ownerResolverCache) SetAssistantOwner(assistantID string, userID snowflake.ID) {
	if userID == 0 {
		return
	}
	c.assistants.Set(cacheKey("assistant", assistantID), userID, c.assistantTTL)
}

func (c *ownerResolverCache) GetIdentity(platform, externalID string) (snowflake.ID, bool) {
	return c.identities.Get(cacheKey(platform, externalID))
}

func (c *ownerResolverCache) SetIdentity(platform, externalID string, userID snowflake.ID) {
	if userID == 0 {
		return
	}
	c.identities.Set(cacheKey(platform, externalID), userID, c.identityTTL)
}

func (c *ownerResolverCache) InvalidateAssistant(assistantID string) {
	c.assistants.Delete(cacheKey("assistant", assistantID))
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
