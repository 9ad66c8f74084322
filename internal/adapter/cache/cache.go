// Package cache implements the two-tier response cache: a hot in-memory tier
// with pressure-aware eviction and a persistent cold tier. The cold tier is a
// weak dependency; its absence or failure never affects correctness.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

const (
	// defaultMaxBytes bounds the hot tier when no budget is configured.
	defaultMaxBytes = 64 * 1024 * 1024

	compactInterval = 24 * time.Hour
	drainTimeout    = 2 * time.Second
)

type Config struct {
	TTL      time.Duration
	MaxBytes int64
}

// Cache owns both tiers. Writes go through to the cold tier asynchronously;
// reads fall through to it on a hot miss.
type Cache struct {
	hot    *hotTier
	cold   ports.ColdStore // nil when unavailable
	logger *slog.Logger
	ttl    time.Duration

	writes  sync.WaitGroup
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func New(cfg Config, cold ports.ColdStore, logger *slog.Logger) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = domain.DefaultCacheTTL
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	c := &Cache{
		hot:    newHotTier(maxBytes),
		cold:   cold,
		logger: logger,
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}

	if cold != nil {
		c.wg.Add(1)
		go c.compactLoop()
	}
	return c
}

// TTL returns the effective entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached entry for a fingerprint, consulting the cold tier on
// a hot miss. Expired entries are treated as absent.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, bool) {
	now := time.Now()

	if entry, ok := c.hot.get(fingerprint, now); ok {
		return entry, true
	}

	if c.cold == nil {
		return nil, false
	}
	entry, err := c.cold.Get(ctx, fingerprint)
	if err != nil {
		c.logger.Debug("cold tier read failed", "fingerprint", fingerprint[:12], "error", err)
		return nil, false
	}
	if entry == nil || entry.Expired(now) {
		return nil, false
	}

	// Promote so subsequent hits stay in memory.
	c.hot.set(entry)
	entry.HitCount++
	entry.LastAccess = now
	return entry, true
}

// Set stores an entry in the hot tier and writes through to the cold tier in
// the background. Cold failures are logged and ignored.
func (c *Cache) Set(entry *domain.CacheEntry) {
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = entry.CreatedAt.Add(c.ttl)
	}

	c.hot.set(entry)

	if c.cold == nil {
		return
	}
	snapshot := *entry
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := c.cold.Put(ctx, &snapshot); err != nil {
			c.logger.Debug("cold tier write failed", "fingerprint", snapshot.Fingerprint[:12], "error", err)
		}
	}()
}

// Stats reports hot-tier occupancy for the observability surface.
func (c *Cache) Stats() (entries, bytes int64) {
	return c.hot.stats()
}

func (c *Cache) compactLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(compactInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			removed, err := c.cold.Compact(ctx)
			cancel()
			if err != nil {
				c.logger.Warn("cold tier compaction failed", "error", err)
			} else if removed > 0 {
				c.logger.Info("cold tier compacted", "removed", removed)
			}
		}
	}
}

// Close drains pending cold writes (bounded) and releases the cold tier.
func (c *Cache) Close() {
	c.stopped.Do(func() {
		close(c.stopCh)
		c.wg.Wait()

		done := make(chan struct{})
		go func() {
			c.writes.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			c.logger.Warn("cold tier writes abandoned at shutdown")
		}

		if c.cold != nil {
			if err := c.cold.Close(); err != nil {
				c.logger.Debug("cold tier close failed", "error", err)
			}
		}
	})
}
