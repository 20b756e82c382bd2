package lookup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/model"
)

// CachingProvider serves GetDropdownOptions from a Cache and delegates every
// other call to the wrapped provider. Cache failures degrade to a direct
// provider call.
type CachingProvider struct {
	model.RecordsProvider

	cache   Cache
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewCachingProvider wraps next. A non-positive ttl defaults to 5 minutes.
func NewCachingProvider(next model.RecordsProvider, cache Cache, ttl time.Duration,
	metrics *observability.Metrics, logger *zap.Logger) *CachingProvider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingProvider{
		RecordsProvider: next,
		cache:           cache,
		ttl:             ttl,
		metrics:         metrics,
		logger:          logger,
	}
}

// GetDropdownOptions returns cached options for url, loading and caching
// them on a miss. Failed loads are never cached.
func (p *CachingProvider) GetDropdownOptions(ctx context.Context, url string) ([]model.Option, error) {
	key := cacheKey(ctx, url)
	log := observability.RequestLogger(ctx, p.logger)

	opts, found, err := p.cache.Get(ctx, key)
	if err != nil {
		log.Warn("lookup cache read failed", zap.String("url", url), zap.Error(err))
	}
	if found {
		p.metrics.RecordLookupCacheHit(p.cache.Name())
		return opts, nil
	}
	p.metrics.RecordLookupCacheMiss(p.cache.Name())

	opts, err = p.RecordsProvider.GetDropdownOptions(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Set(ctx, key, opts, p.ttl); err != nil {
		log.Warn("lookup cache write failed", zap.String("url", url), zap.Error(err))
	}
	return opts, nil
}

// cacheKey scopes entries to the caller's tenant so tenant-filtered option
// lists never leak across tenants.
func cacheKey(ctx context.Context, url string) string {
	tenant := "global"
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.TenantID != "" {
		tenant = rctx.TenantID
	}
	return fmt.Sprintf("lookup:%s:%s", tenant, url)
}

// NewCache builds the Cache selected by cfg.Driver. The returned close
// function releases the backing connection.
func NewCache(ctx context.Context, cfg config.LookupConfig) (Cache, func() error, error) {
	switch cfg.Driver {
	case "", config.DriverMemory:
		return NewMemoryCache(cfg.Cache.MaxEntries), func() error { return nil }, nil
	case config.DriverRedis:
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("lookup: redis address env %q is empty", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("lookup: redis ping: %w", err)
		}
		return NewRedisCache(client), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("lookup: unsupported driver %q", cfg.Driver)
	}
}
