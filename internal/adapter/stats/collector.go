// Package stats centralises every observable event: request outcomes, token
// and cost accounting, cache and breaker activity, pool gauges. Components
// report here instead of keeping their own counters, so the status surface
// and the metrics exposition always agree.
package stats

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

const latencySampleSize = 200

// Collector implements ports.StatsCollector. Hot paths touch only atomics and
// lock-free maps; the snapshot pays the aggregation cost.
type Collector struct {
	backends *xsync.Map[string, *backendData]
	registry *Registry

	totalRequests int64
	totalSuccess  int64
	totalFailed   int64

	cacheHits   int64
	cacheMisses int64
	cacheBytes  int64
	cacheCount  int64

	ragQueried  int64
	ragFellBack int64
	ragFailed   int64

	poolActive int64
	poolFree   int64

	startedAt time.Time
}

type backendData struct {
	requests  int64
	successes int64
	failures  int64
	tokensIn  int64
	tokensOut int64
	costMicro int64 // EUR * 1e6, atomics cannot hold floats

	breakerState atomic.Int32

	latency *reservoirSampler

	failuresByKind *xsync.Map[domain.FailureKind, *int64]
}

func NewCollector() *Collector {
	return &Collector{
		backends:  xsync.NewMap[string, *backendData](),
		registry:  NewRegistry(),
		startedAt: time.Now(),
	}
}

// Registry exposes the prometheus surface backing this collector.
func (c *Collector) Registry() *Registry { return c.registry }

func (c *Collector) backend(name string) *backendData {
	data, _ := c.backends.LoadOrCompute(name, func() (*backendData, bool) {
		return &backendData{
			latency:        newReservoirSampler(latencySampleSize),
			failuresByKind: xsync.NewMap[domain.FailureKind, *int64](),
		}, false
	})
	return data
}

func (c *Collector) RecordRequest(backend string, success bool, kind domain.FailureKind, latency time.Duration) {
	atomic.AddInt64(&c.totalRequests, 1)

	data := c.backend(backend)
	atomic.AddInt64(&data.requests, 1)

	if success {
		atomic.AddInt64(&c.totalSuccess, 1)
		atomic.AddInt64(&data.successes, 1)
		data.latency.Add(latency.Milliseconds())
	} else {
		atomic.AddInt64(&c.totalFailed, 1)
		atomic.AddInt64(&data.failures, 1)
		counter, _ := data.failuresByKind.LoadOrCompute(kind, func() (*int64, bool) {
			return new(int64), false
		})
		atomic.AddInt64(counter, 1)
	}

	c.registry.observeRequest(backend, success, kind, latency)
}

func (c *Collector) RecordTokens(backend string, tokensIn, tokensOut int, costEUR float64) {
	data := c.backend(backend)
	atomic.AddInt64(&data.tokensIn, int64(tokensIn))
	atomic.AddInt64(&data.tokensOut, int64(tokensOut))
	atomic.AddInt64(&data.costMicro, int64(costEUR*1e6))

	c.registry.observeTokens(backend, tokensIn, tokensOut, costEUR)
}

func (c *Collector) RecordCache(hit bool) {
	if hit {
		atomic.AddInt64(&c.cacheHits, 1)
	} else {
		atomic.AddInt64(&c.cacheMisses, 1)
	}
	c.registry.observeCache(hit)
}

func (c *Collector) SetCacheSize(entries, bytes int64) {
	atomic.StoreInt64(&c.cacheCount, entries)
	atomic.StoreInt64(&c.cacheBytes, bytes)
	c.registry.setCacheSize(entries, bytes)
}

func (c *Collector) RecordBreakerTransition(backend string, from, to domain.BreakerState) {
	c.registry.observeBreakerTransition(backend, from, to)
}

func (c *Collector) SetBreakerState(backend string, state domain.BreakerState) {
	c.backend(backend).breakerState.Store(breakerStateValue(state))
	c.registry.setBreakerState(backend, state)
}

func (c *Collector) RecordRAG(queried, fellBack, failed bool) {
	if queried {
		atomic.AddInt64(&c.ragQueried, 1)
	}
	if fellBack {
		atomic.AddInt64(&c.ragFellBack, 1)
	}
	if failed {
		atomic.AddInt64(&c.ragFailed, 1)
	}
	c.registry.observeRAG(queried, fellBack, failed)
}

func (c *Collector) SetPoolSockets(active, free int64) {
	atomic.StoreInt64(&c.poolActive, active)
	atomic.StoreInt64(&c.poolFree, free)
	c.registry.setPoolSockets(active, free)
}

// AvgLatency feeds the router's latency score. Unknown backends report zero,
// which scores as ideal until real calls arrive.
func (c *Collector) AvgLatency(backend string) time.Duration {
	data, ok := c.backends.Load(backend)
	if !ok {
		return 0
	}
	return time.Duration(data.latency.Average()) * time.Millisecond
}

func breakerStateValue(state domain.BreakerState) int32 {
	switch state {
	case domain.BreakerOpen:
		return 1
	case domain.BreakerHalfOpen:
		return 2
	default:
		return 0
	}
}

// BackendSnapshot is one backend's aggregate view.
type BackendSnapshot struct {
	Name         string                      `json:"name"`
	Requests     int64                       `json:"requests"`
	Successes    int64                       `json:"successes"`
	Failures     int64                       `json:"failures"`
	FailureKinds map[domain.FailureKind]int64 `json:"failureKinds,omitempty"`
	TokensIn     int64                       `json:"tokensIn"`
	TokensOut    int64                       `json:"tokensOut"`
	CostEUR      float64                     `json:"costEur"`
	AvgLatencyMs int64                       `json:"avgLatencyMs"`
	P50LatencyMs int64                       `json:"p50LatencyMs"`
	P95LatencyMs int64                       `json:"p95LatencyMs"`
	P99LatencyMs int64                       `json:"p99LatencyMs"`
	BreakerState string                      `json:"breakerState"`
}

// Snapshot is the full aggregate served by the status surface.
type Snapshot struct {
	Uptime        time.Duration     `json:"uptime"`
	TotalRequests int64             `json:"totalRequests"`
	TotalSuccess  int64             `json:"totalSuccess"`
	TotalFailed   int64             `json:"totalFailed"`
	CacheHits     int64             `json:"cacheHits"`
	CacheMisses   int64             `json:"cacheMisses"`
	CacheEntries  int64             `json:"cacheEntries"`
	CacheBytes    int64             `json:"cacheBytes"`
	RAGQueried    int64             `json:"ragQueried"`
	RAGFellBack   int64             `json:"ragFellBack"`
	RAGFailed     int64             `json:"ragFailed"`
	PoolActive    int64             `json:"poolActive"`
	PoolFree      int64             `json:"poolFree"`
	Backends      []BackendSnapshot `json:"backends"`
}

func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		Uptime:        time.Since(c.startedAt),
		TotalRequests: atomic.LoadInt64(&c.totalRequests),
		TotalSuccess:  atomic.LoadInt64(&c.totalSuccess),
		TotalFailed:   atomic.LoadInt64(&c.totalFailed),
		CacheHits:     atomic.LoadInt64(&c.cacheHits),
		CacheMisses:   atomic.LoadInt64(&c.cacheMisses),
		CacheEntries:  atomic.LoadInt64(&c.cacheCount),
		CacheBytes:    atomic.LoadInt64(&c.cacheBytes),
		RAGQueried:    atomic.LoadInt64(&c.ragQueried),
		RAGFellBack:   atomic.LoadInt64(&c.ragFellBack),
		RAGFailed:     atomic.LoadInt64(&c.ragFailed),
		PoolActive:    atomic.LoadInt64(&c.poolActive),
		PoolFree:      atomic.LoadInt64(&c.poolFree),
	}

	c.backends.Range(func(name string, data *backendData) bool {
		p50, p95, p99 := data.latency.Percentiles()

		kinds := make(map[domain.FailureKind]int64)
		data.failuresByKind.Range(func(kind domain.FailureKind, counter *int64) bool {
			kinds[kind] = atomic.LoadInt64(counter)
			return true
		})
		if len(kinds) == 0 {
			kinds = nil
		}

		snap.Backends = append(snap.Backends, BackendSnapshot{
			Name:         name,
			Requests:     atomic.LoadInt64(&data.requests),
			Successes:    atomic.LoadInt64(&data.successes),
			Failures:     atomic.LoadInt64(&data.failures),
			FailureKinds: kinds,
			TokensIn:     atomic.LoadInt64(&data.tokensIn),
			TokensOut:    atomic.LoadInt64(&data.tokensOut),
			CostEUR:      float64(atomic.LoadInt64(&data.costMicro)) / 1e6,
			AvgLatencyMs: data.latency.Average(),
			P50LatencyMs: p50,
			P95LatencyMs: p95,
			P99LatencyMs: p99,
			BreakerState: breakerStateName(data.breakerState.Load()),
		})
		return true
	})

	sort.Slice(snap.Backends, func(i, j int) bool {
		return snap.Backends[i].Name < snap.Backends[j].Name
	})
	return snap
}

func breakerStateName(v int32) string {
	switch v {
	case 1:
		return string(domain.BreakerOpen)
	case 2:
		return string(domain.BreakerHalfOpen)
	default:
		return string(domain.BreakerClosed)
	}
}
