// Package health runs background and on-demand probes against registered
// backends and maintains the per-backend health records consulted by the
// router. Records are mutated under a per-backend lock; reads never block on
// an in-flight probe.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"

	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/core/ports"
)

const (
	// DefaultInterval is the background probe cadence; it equals the record
	// TTL so a healthy system never serves stale records.
	DefaultInterval = 30 * time.Second

	// schedulerTick is how often the scheduler looks for due probes.
	schedulerTick = time.Second

	// pessimisticLatency seeds a fresh record before the first probe lands.
	// Requests proceed optimistically instead of blocking on warm-up.
	pessimisticLatency = 750 * time.Millisecond

	// refreshBurst bounds how many stale-triggered probes can fire at once.
	refreshPerSecond = 2
	refreshBurst     = 4
)

type recordBox struct {
	mu  sync.Mutex
	rec domain.HealthRecord
}

// Monitor implements ports.HealthStore and owns the probe scheduler.
type Monitor struct {
	records  *xsync.Map[string, *recordBox]
	adapters *xsync.Map[string, ports.BackendAdapter]
	limiter  *rate.Limiter
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewMonitor(interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		records:  xsync.NewMap[string, *recordBox](),
		adapters: xsync.NewMap[string, ports.BackendAdapter](),
		limiter:  rate.NewLimiter(refreshPerSecond, refreshBurst),
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a backend, seeds a pessimistic record and schedules an
// immediate warm-up probe. It returns before the probe completes.
func (m *Monitor) Register(adapter ports.BackendAdapter) {
	name := adapter.Name()
	m.adapters.Store(name, adapter)
	m.records.LoadOrStore(name, &recordBox{rec: domain.HealthRecord{
		Backend: name,
		Healthy: true,
		Latency: pessimisticLatency,
	}})

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		m.spawnProbe(name)
	}
}

// Start launches the probe scheduler. Idempotent.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	// Warm-up: probe everything registered so far.
	m.adapters.Range(func(name string, _ ports.BackendAdapter) bool {
		m.spawnProbe(name)
		return true
	})

	m.wg.Add(1)
	go m.schedulerLoop(ctx)
}

// Stop halts the scheduler and waits for in-flight probes. It must run
// before the connection pool shuts down.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) schedulerLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.records.Range(func(name string, box *recordBox) bool {
				box.mu.Lock()
				due := now.Sub(box.rec.LastProbe) >= m.interval
				box.mu.Unlock()
				if due {
					m.spawnProbe(name)
				}
				return true
			})
		}
	}
}

func (m *Monitor) spawnProbe(name string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.probe(name)
	}()
}

// probe runs one health check with a hard deadline and publishes the result.
func (m *Monitor) probe(name string) {
	adapter, ok := m.adapters.Load(name)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan domain.ProbeResult, 1)
	go func() { done <- adapter.ProbeHealth(ctx) }()

	var result domain.ProbeResult
	select {
	case <-m.stopCh:
		cancel()
		return
	case result = <-done:
	}

	box, ok := m.records.Load(name)
	if !ok {
		return
	}

	box.mu.Lock()
	prev := box.rec.Healthy
	box.rec.Healthy = result.Healthy
	box.rec.Latency = result.Latency
	box.rec.LastProbe = time.Now()
	if result.Healthy {
		box.rec.FailureStreak = 0
	} else {
		box.rec.FailureStreak++
	}
	streak := box.rec.FailureStreak
	box.mu.Unlock()

	if prev != result.Healthy {
		if result.Healthy {
			m.logger.Info("backend recovered", "backend", name, "latency", result.Latency)
		} else {
			m.logger.Warn("backend unhealthy",
				"backend", name, "failure_streak", streak, "error", result.Err)
		}
	}
}

// Record returns a copy of the backend's health record.
func (m *Monitor) Record(backend string) (domain.HealthRecord, bool) {
	box, ok := m.records.Load(backend)
	if !ok {
		return domain.HealthRecord{}, false
	}
	box.mu.Lock()
	rec := box.rec
	box.mu.Unlock()
	return rec, true
}

// RequestRefresh schedules an async probe for a stale record. Rate limited so
// request bursts cannot stampede a struggling backend.
func (m *Monitor) RequestRefresh(backend string) {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running || !m.limiter.Allow() {
		return
	}
	m.spawnProbe(backend)
}

// ObserveCall folds a completed request into the health record, keeping it
// warm between probes.
func (m *Monitor) ObserveCall(backend string, success bool, latency time.Duration) {
	box, ok := m.records.Load(backend)
	if !ok {
		return
	}
	box.mu.Lock()
	defer box.mu.Unlock()

	box.rec.Latency = latency
	box.rec.LastProbe = time.Now()
	if success {
		box.rec.Healthy = true
		box.rec.FailureStreak = 0
	} else {
		box.rec.FailureStreak++
	}
}
