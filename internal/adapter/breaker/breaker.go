// Package breaker implements the per-backend circuit breaker with
// failure-pattern classification. One breaker exists per registered backend;
// it is created on first registration and never destroyed. All transitions
// for a backend are serialised under its own mutex.
package breaker

import (
	"sync"
	"time"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

const (
	// streakWindow bounds how far back a consecutive-failure streak counts.
	streakWindow = 60 * time.Second

	// rate-trip parameters over the sliding call window.
	callWindowSize = 20
	rateTripRatio  = 0.5
	rateTripMin    = 5

	baseCooldown     = 45 * time.Second
	maxCooldownExp   = 4 // caps cooldown at 45s * 2^4 = 720s
	defaultThreshold = 5
)

// kindThresholds is the consecutive-failure trip point per failure kind.
// Auth and rate limits trip fast; flaky connections get more slack.
var kindThresholds = map[domain.FailureKind]int{
	domain.FailureAuth:        3,
	domain.FailureRateLimit:   3,
	domain.FailureServerError: 7,
	domain.FailureConnection:  10,
}

func thresholdFor(kind domain.FailureKind) int {
	if t, ok := kindThresholds[kind]; ok {
		return t
	}
	return defaultThreshold
}

// Decision is the admission verdict handed to the router.
type Decision struct {
	State    domain.BreakerState
	Strategy domain.RecoveryStrategy
	Wait     time.Duration
	Allow    bool
}

type callOutcome struct {
	at      time.Time
	kind    domain.FailureKind
	success bool
}

// TransitionFunc observes state changes for metrics.
type TransitionFunc func(backend string, from, to domain.BreakerState)

// Breaker is the state machine for one backend.
type Breaker struct {
	mu sync.Mutex

	backend      string
	state        domain.BreakerState
	onTransition TransitionFunc

	// consecutive failures per kind, reset on success
	streaks     map[domain.FailureKind]int
	streakStart map[domain.FailureKind]time.Time

	calls []callOutcome // sliding window, newest last

	failures      int // total consecutive failures
	lastFailure   time.Time
	openedAt      time.Time
	resetDeadline time.Time

	dominantKind   domain.FailureKind
	dominantStreak int // consecutive opens driven by the same kind

	probeInFlight bool
}

func New(backend string, onTransition TransitionFunc) *Breaker {
	return &Breaker{
		backend:      backend,
		state:        domain.BreakerClosed,
		streaks:      make(map[domain.FailureKind]int),
		streakStart:  make(map[domain.FailureKind]time.Time),
		onTransition: onTransition,
	}
}

// Decide returns the admission decision at time now. In half_open it admits
// exactly one probe; the caller must report the outcome via RecordSuccess,
// RecordFailure or ReleaseProbe.
func (b *Breaker) Decide(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.BreakerOpen:
		if now.Before(b.resetDeadline) {
			return Decision{
				State:    domain.BreakerOpen,
				Strategy: domain.StrategyCircuitOpen,
				Wait:     b.resetDeadline.Sub(now),
				Allow:    false,
			}
		}
		b.transition(domain.BreakerHalfOpen)
		b.probeInFlight = true
		return Decision{
			State:    domain.BreakerHalfOpen,
			Strategy: domain.StrategyImmediateRetry,
			Allow:    true,
		}

	case domain.BreakerHalfOpen:
		if b.probeInFlight {
			return Decision{
				State:    domain.BreakerHalfOpen,
				Strategy: domain.StrategyCircuitOpen,
				Wait:     time.Second,
				Allow:    false,
			}
		}
		b.probeInFlight = true
		return Decision{
			State:    domain.BreakerHalfOpen,
			Strategy: domain.StrategyImmediateRetry,
			Allow:    true,
		}

	default: // closed
		return Decision{
			State:    domain.BreakerClosed,
			Strategy: b.closedStrategy(),
			Allow:    true,
		}
	}
}

// closedStrategy picks the wait policy from the recent failure pattern.
// Callers hold b.mu.
func (b *Breaker) closedStrategy() domain.RecoveryStrategy {
	if b.failures == 0 {
		return domain.StrategyImmediateRetry
	}
	switch b.recentDominantKind() {
	case domain.FailureRateLimit, domain.FailureServerError:
		return domain.StrategyExponentialBackoff
	default:
		return domain.StrategyLinearBackoff
	}
}

func (b *Breaker) recentDominantKind() domain.FailureKind {
	best, bestN := domain.FailureOther, 0
	for kind, n := range b.streaks {
		if n > bestN {
			best, bestN = kind, n
		}
	}
	return best
}

// RecordSuccess closes the circuit and clears failure streaks.
func (b *Breaker) RecordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushCall(callOutcome{at: now, success: true})
	b.failures = 0
	b.streaks = make(map[domain.FailureKind]int)
	b.streakStart = make(map[domain.FailureKind]time.Time)
	b.probeInFlight = false

	if b.state != domain.BreakerClosed {
		b.transition(domain.BreakerClosed)
		b.dominantStreak = 0
		b.dominantKind = ""
	}
}

// RecordFailure records a classified failure and may open the circuit.
func (b *Breaker) RecordFailure(now time.Time, kind domain.FailureKind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushCall(callOutcome{at: now, kind: kind, success: false})
	b.failures++
	b.lastFailure = now

	// A streak only counts while failures arrive inside the window.
	if start, ok := b.streakStart[kind]; !ok || now.Sub(start) > streakWindow {
		b.streaks[kind] = 0
		b.streakStart[kind] = now
	}
	b.streaks[kind]++

	if b.state == domain.BreakerHalfOpen {
		// Failed probe: reopen and extend the cool-down.
		b.probeInFlight = false
		b.open(now, kind)
		return
	}
	if b.state == domain.BreakerOpen {
		return
	}

	if b.streaks[kind] >= thresholdFor(kind) || b.failureRateTripped() {
		b.open(now, kind)
	}
}

// ReleaseProbe returns the half-open probe token without an outcome, used
// when the probe call is cancelled before completing.
func (b *Breaker) ReleaseProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeInFlight = false
}

// open transitions to open and computes the adaptive cool-down. Callers hold b.mu.
func (b *Breaker) open(now time.Time, kind domain.FailureKind) {
	if kind == b.dominantKind {
		b.dominantStreak++
	} else {
		b.dominantKind = kind
		b.dominantStreak = 1
	}

	exp := b.dominantStreak - 1
	if exp > maxCooldownExp {
		exp = maxCooldownExp
	}
	cooldown := baseCooldown * (1 << exp)

	b.openedAt = now
	b.resetDeadline = now.Add(cooldown)
	b.transition(domain.BreakerOpen)
}

func (b *Breaker) failureRateTripped() bool {
	if len(b.calls) < rateTripMin {
		return false
	}
	failures := 0
	for _, c := range b.calls {
		if !c.success {
			failures++
		}
	}
	return float64(failures) >= rateTripRatio*float64(len(b.calls))
}

func (b *Breaker) pushCall(c callOutcome) {
	b.calls = append(b.calls, c)
	if len(b.calls) > callWindowSize {
		b.calls = b.calls[len(b.calls)-callWindowSize:]
	}
}

func (b *Breaker) transition(to domain.BreakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(b.backend, from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() domain.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot exposes the observable breaker fields.
type Snapshot struct {
	State         domain.BreakerState
	Failures      int
	LastFailure   time.Time
	OpenedAt      time.Time
	ResetDeadline time.Time
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:         b.state,
		Failures:      b.failures,
		LastFailure:   b.lastFailure,
		OpenedAt:      b.openedAt,
		ResetDeadline: b.resetDeadline,
	}
}

// ForceOpen pre-opens the breaker; used by operational tooling and tests.
func (b *Breaker) ForceOpen(now time.Time, failures int, deadline time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = failures
	b.openedAt = now
	b.resetDeadline = deadline
	b.transition(domain.BreakerOpen)
}
