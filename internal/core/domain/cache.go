package domain

import (
	"time"
)

// CacheEntry maps a request fingerprint to a completed response.
// The hot tier owns entries; cold-tier rows are derived copies.
type CacheEntry struct {
	Fingerprint string
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastAccess  time.Time
	Size        int64
	HitCount    int64
}

// Expired reports whether the entry is past its TTL. Expired entries are
// treated as absent and lazily purged.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// DefaultCacheTTL applies when the configuration does not override it.
const DefaultCacheTTL = 3600 * time.Second
