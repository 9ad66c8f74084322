package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	base := 500 * time.Millisecond

	assert.Zero(t, ExponentialBackoff(0, base, 30*time.Second, 0))
	assert.Equal(t, 500*time.Millisecond, ExponentialBackoff(1, base, 30*time.Second, 0))
	assert.Equal(t, time.Second, ExponentialBackoff(2, base, 30*time.Second, 0))
	assert.Equal(t, 2*time.Second, ExponentialBackoff(3, base, 30*time.Second, 0))
}

func TestExponentialBackoff_Capped(t *testing.T) {
	got := ExponentialBackoff(20, 500*time.Millisecond, 30*time.Second, 0)
	assert.Equal(t, 30*time.Second, got)
}

func TestExponentialBackoff_JitterBounded(t *testing.T) {
	base := 500 * time.Millisecond
	for i := 0; i < 20; i++ {
		got := ExponentialBackoff(2, base, 30*time.Second, 0.15)
		assert.GreaterOrEqual(t, got, 850*time.Millisecond)
		assert.LessOrEqual(t, got, 1150*time.Millisecond)
	}
}

func TestLinearBackoff(t *testing.T) {
	base := 250 * time.Millisecond

	assert.Zero(t, LinearBackoff(0, base, 0))
	assert.Equal(t, 250*time.Millisecond, LinearBackoff(1, base, 0))
	assert.Equal(t, 750*time.Millisecond, LinearBackoff(3, base, 0))
}

func TestMaskKey(t *testing.T) {
	assert.Empty(t, MaskKey(""))
	assert.Equal(t, "***", MaskKey("abc"))
	assert.Equal(t, "****", MaskKey("abcd"))
	assert.Equal(t, "****wxyz", MaskKey("sk-secret-wxyz"))
}
