package cache

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// Memory pressure bands, expressed as a fraction of the configured budget.
const (
	pressureMedium   = 0.75
	pressureHigh     = 0.85
	pressureCritical = 0.95

	// recencyCapHours bounds the staleness term in the eviction score.
	recencyCapHours = 168

	// sizeNormBytes normalises the entry-size term; entries at or above this
	// size contribute the full weight.
	sizeNormBytes = 64 * 1024

	weightPopularity = 0.4
	weightRecency    = 0.4
	weightSize       = 0.2
)

type hotEntry struct {
	entry      domain.CacheEntry // immutable core; counters live below
	hits       atomic.Int64
	lastAccess atomic.Int64 // unix nanos
}

// hotTier is the in-memory fingerprint -> entry map with pressure-aware
// eviction. All operations are lock-free reads over an xsync map; eviction
// sweeps are serialised by evicting.
type hotTier struct {
	entries  *xsync.Map[string, *hotEntry]
	size     atomic.Int64
	count    atomic.Int64
	maxBytes int64
	evicting atomic.Bool
}

func newHotTier(maxBytes int64) *hotTier {
	return &hotTier{
		entries:  xsync.NewMap[string, *hotEntry](),
		maxBytes: maxBytes,
	}
}

// get returns a copy of the entry with live counters folded in, or false if
// absent or expired. Expired entries are purged lazily.
func (t *hotTier) get(fingerprint string, now time.Time) (*domain.CacheEntry, bool) {
	he, ok := t.entries.Load(fingerprint)
	if !ok {
		return nil, false
	}
	if he.entry.Expired(now) {
		t.remove(fingerprint)
		return nil, false
	}

	he.hits.Add(1)
	he.lastAccess.Store(now.UnixNano())

	out := he.entry
	out.HitCount = he.hits.Load()
	out.LastAccess = time.Unix(0, he.lastAccess.Load())
	return &out, true
}

// set inserts or replaces an entry and runs an eviction sweep if the insert
// pushed the tier over a pressure band.
func (t *hotTier) set(entry *domain.CacheEntry) {
	he := &hotEntry{entry: *entry}
	he.hits.Store(entry.HitCount)
	last := entry.LastAccess
	if last.IsZero() {
		last = entry.CreatedAt
	}
	he.lastAccess.Store(last.UnixNano())

	if prev, loaded := t.entries.LoadAndStore(entry.Fingerprint, he); loaded {
		t.size.Add(-prev.entry.Size)
		t.count.Add(-1)
	}
	t.size.Add(entry.Size)
	t.count.Add(1)

	t.maybeEvict()
}

func (t *hotTier) remove(fingerprint string) {
	if he, loaded := t.entries.LoadAndDelete(fingerprint); loaded {
		t.size.Add(-he.entry.Size)
		t.count.Add(-1)
	}
}

func (t *hotTier) stats() (entries, bytes int64) {
	return t.count.Load(), t.size.Load()
}

func (t *hotTier) pressure() float64 {
	if t.maxBytes <= 0 {
		return 0
	}
	return float64(t.size.Load()) / float64(t.maxBytes)
}

// maybeEvict applies the pressure policy:
//
//	< 75%      nothing
//	75 - 85%   evict lowest-scored entries until pressure < 75%
//	85 - 95%   aggressive: cap the tier at 50% of its current size
//	> 95%      clear the tier entirely
func (t *hotTier) maybeEvict() {
	p := t.pressure()
	if p < pressureMedium {
		return
	}
	if !t.evicting.CompareAndSwap(false, true) {
		return
	}
	defer t.evicting.Store(false)

	switch {
	case p > pressureCritical:
		t.clear()
	case p > pressureHigh:
		t.evictToBytes(t.size.Load() / 2)
	default:
		t.evictToBytes(int64(pressureMedium * float64(t.maxBytes)))
	}
}

func (t *hotTier) clear() {
	t.entries.Range(func(fp string, _ *hotEntry) bool {
		t.remove(fp)
		return true
	})
}

type scoredEntry struct {
	fingerprint string
	score       float64
	lastAccess  int64
	size        int64
}

// evictToBytes removes the worst-scored entries until the tier fits the
// target. Lower score means evict first; ties break on older last access.
func (t *hotTier) evictToBytes(targetBytes int64) {
	now := time.Now()

	scored := make([]scoredEntry, 0, int(t.count.Load()))
	t.entries.Range(func(fp string, he *hotEntry) bool {
		scored = append(scored, scoredEntry{
			fingerprint: fp,
			score:       evictionScore(he, now),
			lastAccess:  he.lastAccess.Load(),
			size:        he.entry.Size,
		})
		return true
	})

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score < scored[j].score
		}
		return scored[i].lastAccess < scored[j].lastAccess
	})

	for _, s := range scored {
		if t.size.Load() <= targetBytes {
			break
		}
		t.remove(s.fingerprint)
	}
}

// evictionScore combines popularity, recency and size:
// popularity*0.4 - recencyHours*0.4 - sizeNorm*0.2, where popularity is
// ln(1+hits) and recency is hours since last access capped at one week.
func evictionScore(he *hotEntry, now time.Time) float64 {
	popularity := math.Log1p(float64(he.hits.Load()))

	recencyHours := now.Sub(time.Unix(0, he.lastAccess.Load())).Hours()
	if recencyHours < 0 {
		recencyHours = 0
	}
	if recencyHours > recencyCapHours {
		recencyHours = recencyCapHours
	}

	sizeNorm := float64(he.entry.Size) / sizeNormBytes
	if sizeNorm > 1 {
		sizeNorm = 1
	}

	return weightPopularity*popularity - weightRecency*recencyHours - weightSize*sizeNorm
}
