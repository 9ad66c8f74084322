package stats

import (
	"bytes"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

// Registry owns a private prometheus registry so concurrent library instances
// never collide on metric registration.
type Registry struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	cost           *prometheus.CounterVec

	cacheRequests *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
	cacheBytes    prometheus.Gauge

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec

	ragQueries *prometheus.CounterVec

	poolSockets *prometheus.GaugeVec
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_requests_total",
		Help: "Completed generation requests by backend and outcome.",
	}, []string{"backend", "outcome", "kind"})

	r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claudette_request_duration_seconds",
		Help:    "End-to-end backend call latency for successful requests.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend"})

	r.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_tokens_total",
		Help: "Tokens consumed by backend and direction.",
	}, []string{"backend", "direction"})

	r.cost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_cost_eur_total",
		Help: "Accumulated estimated cost in EUR by backend.",
	}, []string{"backend"})

	r.cacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_cache_requests_total",
		Help: "Cache lookups by result.",
	}, []string{"result"})

	r.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "claudette_cache_entries",
		Help: "Entries currently held in the hot cache tier.",
	})

	r.cacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "claudette_cache_bytes",
		Help: "Bytes currently held in the hot cache tier.",
	})

	r.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudette_breaker_state",
		Help: "Circuit breaker state per backend: 0 closed, 1 open, 2 half-open.",
	}, []string{"backend"})

	r.breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_breaker_transitions_total",
		Help: "Circuit breaker state transitions.",
	}, []string{"backend", "from", "to"})

	r.ragQueries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claudette_rag_queries_total",
		Help: "Retrieval passes by outcome.",
	}, []string{"outcome"})

	r.poolSockets = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claudette_pool_sockets",
		Help: "Connection pool sockets by state.",
	}, []string{"state"})

	r.registry.MustRegister(
		r.requests, r.requestLatency, r.tokens, r.cost,
		r.cacheRequests, r.cacheEntries, r.cacheBytes,
		r.breakerState, r.breakerTransitions,
		r.ragQueries, r.poolSockets,
	)
	return r
}

func (r *Registry) observeRequest(backend string, success bool, kind domain.FailureKind, latency time.Duration) {
	if success {
		r.requests.WithLabelValues(backend, "success", "").Inc()
		r.requestLatency.WithLabelValues(backend).Observe(latency.Seconds())
		return
	}
	r.requests.WithLabelValues(backend, "failure", string(kind)).Inc()
}

func (r *Registry) observeTokens(backend string, tokensIn, tokensOut int, costEUR float64) {
	r.tokens.WithLabelValues(backend, "in").Add(float64(tokensIn))
	r.tokens.WithLabelValues(backend, "out").Add(float64(tokensOut))
	r.cost.WithLabelValues(backend).Add(costEUR)
}

func (r *Registry) observeCache(hit bool) {
	if hit {
		r.cacheRequests.WithLabelValues("hit").Inc()
	} else {
		r.cacheRequests.WithLabelValues("miss").Inc()
	}
}

func (r *Registry) setCacheSize(entries, bytes int64) {
	r.cacheEntries.Set(float64(entries))
	r.cacheBytes.Set(float64(bytes))
}

func (r *Registry) observeBreakerTransition(backend string, from, to domain.BreakerState) {
	r.breakerTransitions.WithLabelValues(backend, string(from), string(to)).Inc()
}

func (r *Registry) setBreakerState(backend string, state domain.BreakerState) {
	r.breakerState.WithLabelValues(backend).Set(float64(breakerStateValue(state)))
}

func (r *Registry) observeRAG(queried, fellBack, failed bool) {
	if queried {
		r.ragQueries.WithLabelValues("queried").Inc()
	}
	if fellBack {
		r.ragQueries.WithLabelValues("fallback").Inc()
	}
	if failed {
		r.ragQueries.WithLabelValues("failed").Inc()
	}
}

func (r *Registry) setPoolSockets(active, free int64) {
	r.poolSockets.WithLabelValues("active").Set(float64(active))
	r.poolSockets.WithLabelValues("free").Set(float64(free))
}

// Export renders the registry in prometheus text exposition format.
func (r *Registry) Export() (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
