package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

func TestDecide_ClosedAllowsImmediately(t *testing.T) {
	b := New("openai", nil)

	d := b.Decide(time.Now())
	assert.True(t, d.Allow)
	assert.Equal(t, domain.BreakerClosed, d.State)
	assert.Equal(t, domain.StrategyImmediateRetry, d.Strategy)
}

func TestRecordFailure_AuthTripsAtThree(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	b.RecordFailure(now, domain.FailureAuth)
	b.RecordFailure(now.Add(time.Second), domain.FailureAuth)
	assert.Equal(t, domain.BreakerClosed, b.State())

	b.RecordFailure(now.Add(2*time.Second), domain.FailureAuth)
	assert.Equal(t, domain.BreakerOpen, b.State())
}

func TestRecordFailure_ServerErrorTripsAtSeven(t *testing.T) {
	b := New("ollama", nil)
	now := time.Now()

	for i := 0; i < 6; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureServerError)
	}
	assert.Equal(t, domain.BreakerClosed, b.State())

	b.RecordFailure(now.Add(6*time.Second), domain.FailureServerError)
	assert.Equal(t, domain.BreakerOpen, b.State())
}

func TestRecordFailure_StreakResetsOutsideWindow(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	b.RecordFailure(now, domain.FailureAuth)
	b.RecordFailure(now.Add(time.Second), domain.FailureAuth)

	// Third failure arrives after the 60s streak window; the streak restarts.
	b.RecordFailure(now.Add(90*time.Second), domain.FailureAuth)
	assert.Equal(t, domain.BreakerClosed, b.State())
}

func TestRecordSuccess_ClearsStreaks(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	b.RecordFailure(now, domain.FailureAuth)
	b.RecordFailure(now.Add(time.Second), domain.FailureAuth)
	b.RecordSuccess(now.Add(2 * time.Second))

	b.RecordFailure(now.Add(3*time.Second), domain.FailureAuth)
	b.RecordFailure(now.Add(4*time.Second), domain.FailureAuth)
	assert.Equal(t, domain.BreakerClosed, b.State())
}

func TestFailureRate_TripsAtHalfOfWindow(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	// Alternate kinds so no single-kind threshold trips first; 5 calls with
	// 3 failures is >= 50% over >= 5 calls.
	b.RecordSuccess(now)
	b.RecordSuccess(now.Add(time.Second))
	b.RecordFailure(now.Add(2*time.Second), domain.FailureTimeout)
	b.RecordFailure(now.Add(3*time.Second), domain.FailureConnection)
	assert.Equal(t, domain.BreakerClosed, b.State())

	b.RecordFailure(now.Add(4*time.Second), domain.FailureOther)
	assert.Equal(t, domain.BreakerOpen, b.State())
}

func TestOpen_RejectsUntilCooldown(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureAuth)
	}
	require.Equal(t, domain.BreakerOpen, b.State())

	d := b.Decide(now.Add(4 * time.Second))
	assert.False(t, d.Allow)
	assert.Equal(t, domain.StrategyCircuitOpen, d.Strategy)
	assert.Greater(t, d.Wait, time.Duration(0))
}

func TestHalfOpen_SingleProbeToken(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureAuth)
	}

	after := now.Add(50 * time.Second)
	first := b.Decide(after)
	require.True(t, first.Allow)
	assert.Equal(t, domain.BreakerHalfOpen, first.State)

	second := b.Decide(after)
	assert.False(t, second.Allow, "only one probe may be in flight")

	b.ReleaseProbe()
	third := b.Decide(after)
	assert.True(t, third.Allow)
}

func TestHalfOpen_ProbeSuccessCloses(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureAuth)
	}

	after := now.Add(50 * time.Second)
	d := b.Decide(after)
	require.True(t, d.Allow)

	b.RecordSuccess(after.Add(time.Second))
	assert.Equal(t, domain.BreakerClosed, b.State())
}

func TestHalfOpen_ProbeFailureReopensWithLongerCooldown(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureAuth)
	}
	firstDeadline := b.Snapshot().ResetDeadline
	firstCooldown := firstDeadline.Sub(now.Add(2 * time.Second))

	after := firstDeadline.Add(time.Second)
	d := b.Decide(after)
	require.True(t, d.Allow)

	b.RecordFailure(after.Add(time.Second), domain.FailureAuth)
	require.Equal(t, domain.BreakerOpen, b.State())

	secondCooldown := b.Snapshot().ResetDeadline.Sub(after.Add(time.Second))
	assert.Greater(t, secondCooldown, firstCooldown, "repeat opens on the same kind double the cooldown")
}

func TestCooldown_CappedAtSixteenTimesBase(t *testing.T) {
	b := New("openai", nil)
	now := time.Now()

	// Drive many consecutive same-kind opens via half-open probe failures.
	for i := 0; i < 3; i++ {
		b.RecordFailure(now, domain.FailureRateLimit)
	}
	for i := 0; i < 10; i++ {
		deadline := b.Snapshot().ResetDeadline
		d := b.Decide(deadline.Add(time.Second))
		require.True(t, d.Allow)
		b.RecordFailure(deadline.Add(2*time.Second), domain.FailureRateLimit)
	}

	snap := b.Snapshot()
	cooldown := snap.ResetDeadline.Sub(snap.OpenedAt)
	assert.LessOrEqual(t, cooldown, 16*45*time.Second)
}

func TestClosedStrategy_FollowsFailurePattern(t *testing.T) {
	now := time.Now()

	b := New("openai", nil)
	b.RecordFailure(now, domain.FailureRateLimit)
	assert.Equal(t, domain.StrategyExponentialBackoff, b.Decide(now.Add(time.Second)).Strategy)

	b2 := New("openai", nil)
	b2.RecordFailure(now, domain.FailureConnection)
	assert.Equal(t, domain.StrategyLinearBackoff, b2.Decide(now.Add(time.Second)).Strategy)
}

func TestTransitionCallback(t *testing.T) {
	var transitions []string
	b := New("openai", func(backend string, from, to domain.BreakerState) {
		transitions = append(transitions, string(from)+">"+string(to))
	})
	now := time.Now()

	for i := 0; i < 3; i++ {
		b.RecordFailure(now.Add(time.Duration(i)*time.Second), domain.FailureAuth)
	}
	d := b.Decide(now.Add(50 * time.Second))
	require.True(t, d.Allow)
	b.RecordSuccess(now.Add(51 * time.Second))

	assert.Equal(t, []string{"closed>open", "open>half_open", "half_open>closed"}, transitions)
}
