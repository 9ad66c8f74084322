package runtime

import (
	"time"

	"github.com/docker/go-units"

	"github.com/claudette-ai/claudette/internal/adapter/stats"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/version"
)

// BackendHealth is one backend's line in the health snapshot.
type BackendHealth struct {
	Name      string              `json:"name"`
	Healthy   bool                `json:"healthy"`
	LatencyMs int64               `json:"latencyMs"`
	State     domain.BreakerState `json:"state"`
}

// CacheHealth summarises the hot tier.
type CacheHealth struct {
	HitRate float64 `json:"hitRate"`
	Entries int64   `json:"entries"`
	SizeMB  float64 `json:"sizeMb"`
	Size    string  `json:"size"`
}

// HealthSnapshot is the consumer-visible status view.
type HealthSnapshot struct {
	Healthy  bool            `json:"healthy"`
	Backends []BackendHealth `json:"backends"`
	Cache    CacheHealth     `json:"cache"`
	Version  string          `json:"version"`
}

// Status reports overall health: healthy when at least one backend is up with
// its breaker not open.
func (r *Runtime) Status() HealthSnapshot {
	snap := HealthSnapshot{Version: version.Version}
	if !r.initialized.Load() {
		return snap
	}

	states := r.table.BreakerStates()
	for _, name := range r.table.Names() {
		rec, ok := r.monitor.Record(name)
		if !ok {
			continue
		}
		state := states[name]
		bh := BackendHealth{
			Name:      name,
			Healthy:   rec.Healthy,
			LatencyMs: rec.Latency.Milliseconds(),
			State:     state,
		}
		snap.Backends = append(snap.Backends, bh)
		if rec.Healthy && state != domain.BreakerOpen {
			snap.Healthy = true
		}
	}

	snap.Cache = r.cacheHealth()
	return snap
}

func (r *Runtime) cacheHealth() CacheHealth {
	var out CacheHealth
	s := r.stats.Snapshot()
	if total := s.CacheHits + s.CacheMisses; total > 0 {
		out.HitRate = float64(s.CacheHits) / float64(total)
	}
	if r.cache != nil {
		entries, bytes := r.cache.Stats()
		out.Entries = entries
		out.SizeMB = float64(bytes) / (1024 * 1024)
		out.Size = units.BytesSize(float64(bytes))
	}
	return out
}

// Stats exposes the aggregate counters for hosts that want raw numbers.
func (r *Runtime) Stats() stats.Snapshot {
	if !r.initialized.Load() {
		return stats.Snapshot{}
	}
	return r.stats.Snapshot()
}

// Uptime is a convenience for host status pages.
func (r *Runtime) Uptime() time.Duration {
	if !r.initialized.Load() {
		return 0
	}
	return r.stats.Snapshot().Uptime
}
