package history

import (
	"context"
	"time"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
	"github.com/agroia/agroia-backend/internal/logger"
)

// DefaultStatsTTL is used when CachedService.TTL is zero.
const DefaultStatsTTL = 30 * time.Second

// StatsCache stores computed stats per owner.
type StatsCache interface {
	GetStats(ctx context.Context, owner string) (analysis.UserStats, bool, error)
	SetStats(ctx context.Context, owner string, st analysis.UserStats, ttl time.Duration) error
	DropStats(ctx context.Context, owner string) error
}

// CachedService wraps Service and caches Stats per owner. Cache failures are
// logged and bypassed. History pages are never cached.
type CachedService struct {
	*Service
	Cache StatsCache
	TTL   time.Duration
	Log   *logger.Logger
}

func NewCached(svc *Service, cache StatsCache, ttl time.Duration, log *logger.Logger) *CachedService {
	if ttl <= 0 {
		ttl = DefaultStatsTTL
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachedService{Service: svc, Cache: cache, TTL: ttl, Log: log}
}

func (c *CachedService) Stats(ctx context.Context, owner string) (analysis.UserStats, error) {
	if st, ok, err := c.Cache.GetStats(ctx, owner); err != nil {
		c.Log.Warn("stats cache read failed", "error", err)
	} else if ok {
		return st, nil
	}
	st, err := c.Service.Stats(ctx, owner)
	if err != nil {
		return st, err
	}
	if err := c.Cache.SetStats(ctx, owner, st, c.TTL); err != nil {
		c.Log.Warn("stats cache write failed", "error", err)
	}
	return st, nil
}

func (c *CachedService) Delete(ctx context.Context, id analysis.ID, owner string) error {
	err := c.Service.Delete(ctx, id, owner)
	if err == nil {
		c.Invalidate(ctx, owner)
	}
	return err
}

func (c *CachedService) CleanupSuspicious(ctx context.Context, owner string) (int, error) {
	n, err := c.Service.CleanupSuspicious(ctx, owner)
	if n > 0 {
		c.Invalidate(ctx, owner)
	}
	return n, err
}

// Invalidate drops the owner's cached stats. Submissions call it after a save.
func (c *CachedService) Invalidate(ctx context.Context, owner string) {
	if err := c.Cache.DropStats(ctx, owner); err != nil {
		c.Log.Warn("stats cache invalidate failed", "error", err)
	}
}
