package router

import (
	"time"

	"github.com/claudette-ai/claudette/internal/adapter/breaker"
)

const (
	// Normalisation references: a nominal request at or above 0.01 EUR scores
	// the full cost weight, 10s average latency the full latency weight, and
	// ten recent failures the full availability penalty.
	costRefEUR       = 0.01
	latencyRefMillis = 10000
	failureRef       = 10

	// A failure streak penalises in full for failureDecayAge, then shrinks
	// with age over decayHorizon, never below decayFloor of the raw penalty
	// while the streak stands.
	failureDecayAge = 60 * time.Second
	decayHorizon    = time.Hour
	decayFloor      = 0.1

	// nominal request used for comparable cost estimates across backends.
	nominalTokensIn  = 1000
	nominalTokensOut = 500
)

// Weights are the scoring coefficients. They always sum to 1 after config
// normalisation.
type Weights struct {
	Cost         float64
	Latency      float64
	Availability float64
}

func DefaultWeights() Weights {
	return Weights{Cost: 0.4, Latency: 0.4, Availability: 0.2}
}

// score computes the composite routing score for one backend. Lower is
// better. All three terms are normalised to [0,1] before weighting.
func (r *Router) score(e *entry, now time.Time) float64 {
	cost := e.adapter.EstimateCost(nominalTokensIn, nominalTokensOut) / costRefEUR
	if cost > 1 {
		cost = 1
	}

	latency := float64(r.stats.AvgLatency(e.adapter.Name()).Milliseconds()) / latencyRefMillis
	if latency > 1 {
		latency = 1
	}

	availability := availabilityPenalty(e.breaker.Snapshot(), now)

	return r.weights.Cost*cost + r.weights.Latency*latency + r.weights.Availability*availability
}

// availabilityPenalty scales with recent consecutive failures. Once the last
// failure ages past the decay window the penalty decays multiplicatively with
// a floor, so a flaky backend stays slightly penalised until its streak
// resets.
func availabilityPenalty(snap breaker.Snapshot, now time.Time) float64 {
	if snap.Failures == 0 || snap.LastFailure.IsZero() {
		return 0
	}
	penalty := float64(snap.Failures) / failureRef
	if penalty > 1 {
		penalty = 1
	}
	if since := now.Sub(snap.LastFailure); since > failureDecayAge {
		factor := 1 - float64(since)/float64(decayHorizon)
		if factor < decayFloor {
			factor = decayFloor
		}
		penalty *= factor
	}
	return penalty
}
