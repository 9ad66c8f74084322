package stats

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// reservoirSampler keeps a fixed-size uniform sample of latency observations
// so percentiles stay accurate with bounded memory.
type reservoirSampler struct {
	mu         sync.Mutex
	samples    []int64
	sampleSize int
	count      int64
	sum        int64
}

func newReservoirSampler(sampleSize int) *reservoirSampler {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &reservoirSampler{
		sampleSize: sampleSize,
		samples:    make([]int64, 0, sampleSize),
	}
}

func (rs *reservoirSampler) Add(value int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.count++
	rs.sum += value

	if len(rs.samples) < rs.sampleSize {
		rs.samples = append(rs.samples, value)
		return
	}

	j := rand.Int64N(rs.count) //nolint:gosec // statistical sampling
	if j < int64(rs.sampleSize) {
		rs.samples[j] = value
	}
}

// Average is over every observation, not just the retained sample.
func (rs *reservoirSampler) Average() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.count == 0 {
		return 0
	}
	return rs.sum / rs.count
}

func (rs *reservoirSampler) Percentiles() (p50, p95, p99 int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.samples) == 0 {
		return 0, 0, 0
	}

	sorted := make([]int64, len(rs.samples))
	copy(sorted, rs.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := func(pct int) int {
		i := len(sorted) * pct / 100
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return i
	}
	return sorted[idx(50)], sorted[idx(95)], sorted[idx(99)]
}

func (rs *reservoirSampler) Count() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}
