package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/voxmeter/voxmeter/internal/config"
)

const (
	keyIngestSource    = "voxmeter:ingest:source:%s"
	keyReprocessLock   = "voxmeter:ingest:reprocess"
	reprocessLockTTL   = 5 * time.Minute
	defaultSourceLabel = "default"
)

// IngestLimiter throttles webhook deliveries per source and guards
// the unattributed replay job with a distributed lock. A nil limiter
// is valid and allows everything; rate limiting is opt-in.
type IngestLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	rate  float64
	burst int
}

func NewIngestLimiter(cfg config.Config) (*IngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.IngestRate <= 0 || limitCfg.IngestBurst <= 0 {
		return nil, errors.New("ingest rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &IngestLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    limitCfg.IngestRate,
		burst:   limitCfg.IngestBurst,
	}, nil
}

func (l *IngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowSource spends one token for the delivery source. The source is
// typically the assistant id; deliveries with no source share one
// bucket.
func (l *IngestLimiter) AllowSource(ctx context.Context, source string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = defaultSourceLabel
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIngestSource, source), l.rate, l.burst)
}

// TryReprocessLock claims the replay job lock so at most one replica
// reprocesses unattributed events at a time.
func (l *IngestLimiter) TryReprocessLock(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyReprocessLock, reprocessLockTTL)
}

func (l *IngestLimiter) ReleaseReprocessLock(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyReprocessLock, token)
}
