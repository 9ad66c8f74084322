package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudette-ai/claudette/internal/adapter/breaker"
	"github.com/claudette-ai/claudette/internal/core/domain"
	"github.com/claudette-ai/claudette/internal/logger"
)

// fakeAdapter returns scripted responses per call.
type fakeAdapter struct {
	cfg   domain.BackendConfig
	calls int
	send  func(call int) (*domain.Response, error)
}

func (f *fakeAdapter) Name() string                      { return f.cfg.Name }
func (f *fakeAdapter) Provider() domain.ProviderKind     { return f.cfg.Provider }
func (f *fakeAdapter) Config() domain.BackendConfig      { return f.cfg }
func (f *fakeAdapter) ValidateConfig() []domain.ConfigIssue { return nil }
func (f *fakeAdapter) Supports(string) bool              { return true }

func (f *fakeAdapter) EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn+tokensOut) / 1000.0 * f.cfg.CostPerKToken
}

func (f *fakeAdapter) Send(_ context.Context, _ string, _ domain.EffectiveOptions) (*domain.Response, error) {
	f.calls++
	if f.send != nil {
		return f.send(f.calls)
	}
	return &domain.Response{Content: "ok", BackendUsed: f.cfg.Name}, nil
}

func (f *fakeAdapter) ProbeHealth(context.Context) domain.ProbeResult {
	return domain.ProbeResult{Healthy: true}
}

// fakeHealth satisfies HealthView with static records.
type fakeHealth struct {
	records map[string]domain.HealthRecord
}

func (h *fakeHealth) Record(backend string) (domain.HealthRecord, bool) {
	rec, ok := h.records[backend]
	return rec, ok
}

func (h *fakeHealth) RequestRefresh(string)                            {}
func (h *fakeHealth) ObserveCall(string, bool, time.Duration)          {}

// fakeStats records latency per backend and counts nothing else.
type fakeStats struct {
	latency map[string]time.Duration
}

func (s *fakeStats) RecordRequest(string, bool, domain.FailureKind, time.Duration) {}
func (s *fakeStats) RecordTokens(string, int, int, float64)                        {}
func (s *fakeStats) RecordCache(bool)                                              {}
func (s *fakeStats) SetCacheSize(int64, int64)                                     {}
func (s *fakeStats) RecordBreakerTransition(string, domain.BreakerState, domain.BreakerState) {
}
func (s *fakeStats) SetBreakerState(string, domain.BreakerState) {}
func (s *fakeStats) RecordRAG(bool, bool, bool)                  {}
func (s *fakeStats) SetPoolSockets(int64, int64)                 {}

func (s *fakeStats) AvgLatency(backend string) time.Duration {
	return s.latency[backend]
}

func adapterFor(name string, costPerK float64, priority int) *fakeAdapter {
	return &fakeAdapter{cfg: domain.BackendConfig{
		Name: name, Provider: domain.ProviderOpenAI, Enabled: true,
		Priority: priority, Model: "m", CostPerKToken: costPerK,
	}}
}

func newTestRouter(stats *fakeStats, adapters ...*fakeAdapter) (*Router, *Table) {
	if stats == nil {
		stats = &fakeStats{latency: map[string]time.Duration{}}
	}
	table := NewTable()
	for _, a := range adapters {
		table.Register(a, nil)
	}
	health := &fakeHealth{records: map[string]domain.HealthRecord{}}
	r := New(Config{}, table, health, stats, logger.Discard())
	return r, table
}

func TestExecute_SingleBackend(t *testing.T) {
	a := adapterFor("openai", 0.002, 0)
	r, _ := newTestRouter(nil, a)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.BackendUsed)
	assert.Contains(t, resp.Metadata.RoutingDecision, "backend=openai attempt=1")
}

func TestExecute_CheaperBackendWins(t *testing.T) {
	pricey := adapterFor("pricey", 0.02, 0)
	cheap := adapterFor("cheap", 0.001, 0)
	r, _ := newTestRouter(nil, pricey, cheap)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cheap", resp.BackendUsed)
	assert.Zero(t, pricey.calls)
}

func TestExecute_SlowBackendPenalised(t *testing.T) {
	slow := adapterFor("slow", 0.001, 0)
	fast := adapterFor("fast", 0.001, 0)
	stats := &fakeStats{latency: map[string]time.Duration{
		"slow": 8 * time.Second,
		"fast": 200 * time.Millisecond,
	}}
	r, _ := newTestRouter(stats, slow, fast)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fast", resp.BackendUsed)
}

func TestExecute_TieBreakByPriorityThenOrder(t *testing.T) {
	high := adapterFor("high", 0.001, 5)
	low := adapterFor("low", 0.001, 1)
	r, _ := newTestRouter(nil, high, low)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "low", resp.BackendUsed, "equal scores fall back to the lower priority number")

	first := adapterFor("first", 0.001, 0)
	second := adapterFor("second", 0.001, 0)
	r2, _ := newTestRouter(nil, first, second)

	resp, err = r2.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.BackendUsed, "equal priorities fall back to registration order")
}

func TestExecute_RetryableFailureFallsBack(t *testing.T) {
	broken := adapterFor("broken", 0.001, 0)
	broken.send = func(int) (*domain.Response, error) {
		return nil, domain.NewBackendError(domain.ErrBackendServer, "broken", "HTTP 500", nil)
	}
	backup := adapterFor("backup", 0.02, 0)
	r, _ := newTestRouter(nil, broken, backup)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.BackendUsed)
	assert.Equal(t, 1, broken.calls, "the failed backend is excluded, not retried")
	assert.Contains(t, resp.Metadata.RoutingDecision, "attempt=2")
}

func TestExecute_NonRetryableFailureReturnsImmediately(t *testing.T) {
	bad := adapterFor("bad", 0.001, 0)
	bad.send = func(int) (*domain.Response, error) {
		return nil, domain.NewBackendError(domain.ErrContextLength, "bad", "context length exceeded", nil)
	}
	backup := adapterFor("backup", 0.02, 0)
	r, _ := newTestRouter(nil, bad, backup)

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrContextLength, domain.AsError(err).Kind)
	assert.Zero(t, backup.calls, "non-retryable errors never fall back")
}

func TestExecute_ExhaustedAttemptsReturnLastError(t *testing.T) {
	mk := func(name string) *fakeAdapter {
		a := adapterFor(name, 0.001, 0)
		a.send = func(int) (*domain.Response, error) {
			return nil, domain.NewBackendError(domain.ErrBackendServer, name, "HTTP 503", nil)
		}
		return a
	}
	r, _ := newTestRouter(nil, mk("a"), mk("b"), mk("c"))

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.Error(t, err)
	ce := domain.AsError(err)
	assert.Equal(t, domain.ErrBackendServer, ce.Kind)
	assert.Equal(t, "c", ce.Backend, "the last failure surfaces")
}

func TestExecute_EmptyTableIsNoBackend(t *testing.T) {
	r, _ := newTestRouter(nil)

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrNoBackend, domain.AsError(err).Kind)
}

func TestExecute_DisabledBackendsIgnored(t *testing.T) {
	disabled := adapterFor("disabled", 0.001, 0)
	disabled.cfg.Enabled = false
	r, _ := newTestRouter(nil, disabled)

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrNoBackend, domain.AsError(err).Kind)
	assert.Zero(t, disabled.calls)
}

func TestExecute_OpenBreakerSkipped(t *testing.T) {
	flaky := adapterFor("flaky", 0.001, 0)
	backup := adapterFor("backup", 0.02, 0)
	r, table := newTestRouter(nil, flaky, backup)

	br, ok := table.Breaker("flaky")
	require.True(t, ok)
	now := time.Now()
	for i := 0; i < 7; i++ {
		br.RecordFailure(now, domain.FailureServerError)
	}
	require.Equal(t, domain.BreakerOpen, br.State())

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.BackendUsed)
	assert.Zero(t, flaky.calls)
	assert.Contains(t, resp.Metadata.RoutingDecision, "attempt=1",
		"breaker skips do not consume the attempt budget")
}

func TestExecute_ForcedBackendNoFallback(t *testing.T) {
	forced := adapterFor("forced", 0.02, 0)
	forced.send = func(int) (*domain.Response, error) {
		return nil, domain.NewBackendError(domain.ErrBackendAuth, "forced", "HTTP 401", nil)
	}
	other := adapterFor("other", 0.001, 0)
	r, _ := newTestRouter(nil, forced, other)

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{Backend: "forced"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrBackendAuth, domain.AsError(err).Kind)
	assert.Zero(t, other.calls, "a forced backend never falls back")
}

func TestExecute_ForcedBackendSuccess(t *testing.T) {
	forced := adapterFor("forced", 0.02, 0)
	r, _ := newTestRouter(nil, forced)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{Backend: "forced"})
	require.NoError(t, err)
	assert.Equal(t, "backend=forced forced", resp.Metadata.RoutingDecision)
}

func TestExecute_ForcedUnknownBackend(t *testing.T) {
	r, _ := newTestRouter(nil, adapterFor("openai", 0.001, 0))

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{Backend: "ghost"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrNoBackend, domain.AsError(err).Kind)
}

func TestExecute_ForcedDisabledBackend(t *testing.T) {
	disabled := adapterFor("disabled", 0.001, 0)
	disabled.cfg.Enabled = false
	r, _ := newTestRouter(nil, disabled)

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{Backend: "disabled"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrNoBackend, domain.AsError(err).Kind)
}

func TestExecute_ForcedOpenBreaker(t *testing.T) {
	forced := adapterFor("forced", 0.001, 0)
	r, table := newTestRouter(nil, forced)

	br, _ := table.Breaker("forced")
	now := time.Now()
	for i := 0; i < 7; i++ {
		br.RecordFailure(now, domain.FailureServerError)
	}
	require.Equal(t, domain.BreakerOpen, br.State())

	_, err := r.Execute(context.Background(), "p", domain.RequestOptions{Backend: "forced"})
	require.Error(t, err)
	ce := domain.AsError(err)
	assert.Equal(t, domain.ErrNoBackend, ce.Kind)
	assert.Contains(t, ce.Message, "circuit open")
	assert.Zero(t, forced.calls)
}

func TestExecute_UnhealthyBackendSkipped(t *testing.T) {
	down := adapterFor("down", 0.001, 0)
	up := adapterFor("up", 0.02, 0)

	table := NewTable()
	table.Register(down, nil)
	table.Register(up, nil)
	health := &fakeHealth{records: map[string]domain.HealthRecord{
		"down": {Backend: "down", Healthy: false, LastProbe: time.Now()},
		"up":   {Backend: "up", Healthy: true, LastProbe: time.Now()},
	}}
	r := New(Config{}, table, health, &fakeStats{latency: map[string]time.Duration{}}, logger.Discard())

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "up", resp.BackendUsed)
	assert.Zero(t, down.calls)
}

func TestExecute_AllUnhealthyProceedsOptimistically(t *testing.T) {
	only := adapterFor("only", 0.001, 0)

	table := NewTable()
	table.Register(only, nil)
	health := &fakeHealth{records: map[string]domain.HealthRecord{
		"only": {Backend: "only", Healthy: false, LastProbe: time.Now()},
	}}
	r := New(Config{}, table, health, &fakeStats{latency: map[string]time.Duration{}}, logger.Discard())

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "only", resp.BackendUsed)
}

func TestResolveOptions_Merging(t *testing.T) {
	cfg := domain.BackendConfig{Model: "default-model", MaxTokens: 4096, Temperature: 0.5}

	effective := resolveOptions(cfg, domain.RequestOptions{})
	assert.Equal(t, "default-model", effective.Model)
	assert.Equal(t, 4096, effective.MaxTokens)
	assert.InDelta(t, 0.5, effective.Temperature, 1e-9)

	temp := 0.0
	effective = resolveOptions(cfg, domain.RequestOptions{
		Model: "override", MaxTokens: 100, Temperature: &temp,
	})
	assert.Equal(t, "override", effective.Model)
	assert.Equal(t, 100, effective.MaxTokens)
	assert.Zero(t, effective.Temperature, "an explicit zero overrides the backend default")
}

func TestAvailabilityPenalty(t *testing.T) {
	now := time.Now()

	assert.Zero(t, availabilityPenalty(breaker.Snapshot{}, now))

	recent := breaker.Snapshot{Failures: 4, LastFailure: now.Add(-10 * time.Second)}
	assert.InDelta(t, 0.4, availabilityPenalty(recent, now), 1e-9,
		"inside the decay window the raw penalty applies")

	capped := breaker.Snapshot{Failures: 25, LastFailure: now.Add(-10 * time.Second)}
	assert.InDelta(t, 1.0, availabilityPenalty(capped, now), 1e-9)

	aged := breaker.Snapshot{Failures: 10, LastFailure: now.Add(-2 * time.Minute)}
	assert.InDelta(t, 1.0*(1-2.0/60.0), availabilityPenalty(aged, now), 1e-6,
		"past the window the penalty shrinks with the age of the last failure")

	ancient := breaker.Snapshot{Failures: 10, LastFailure: now.Add(-5 * time.Hour)}
	assert.InDelta(t, 0.1, availabilityPenalty(ancient, now), 1e-9,
		"the decayed penalty bottoms out at ten percent")
}

func TestAvailabilityPenalty_AgedStreakStillSteersRouting(t *testing.T) {
	flaky := adapterFor("flaky", 0.001, 0)
	steady := adapterFor("steady", 0.001, 0)
	r, table := newTestRouter(nil, flaky, steady)

	br, _ := table.Breaker("flaky")
	then := time.Now().Add(-2 * time.Minute)
	br.RecordFailure(then, domain.FailureServerError)
	br.RecordFailure(then.Add(time.Second), domain.FailureServerError)

	resp, err := r.Execute(context.Background(), "p", domain.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "steady", resp.BackendUsed,
		"a two-minute-old streak is decayed but still outweighs registration order")
}
