package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedRateLimiterAllowsBurstPerKey(t *testing.T) {
	krl := New(0.001, 2)
	defer krl.Stop()

	assert.True(t, krl.Allow("10.0.0.1"))
	assert.True(t, krl.Allow("10.0.0.1"))
	assert.False(t, krl.Allow("10.0.0.1"))

	assert.True(t, krl.Allow("10.0.0.2"), "keys have independent buckets")
}

func TestKeyedRateLimiterRefills(t *testing.T) {
	krl := New(1, 1)
	defer krl.Stop()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	krl.now = func() time.Time { return base }

	assert.True(t, krl.Allow("ip"))
	assert.False(t, krl.Allow("ip"))

	krl.now = func() time.Time { return base.Add(1500 * time.Millisecond) }
	assert.True(t, krl.Allow("ip"))
}

func TestKeyedRateLimiterPrunesIdleKeys(t *testing.T) {
	krl := NewWithIdleTTL(1, 1, time.Minute)
	defer krl.Stop()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	krl.now = func() time.Time { return base }

	krl.Allow("a")
	krl.Allow("b")
	assert.Equal(t, 2, krl.Len())

	krl.now = func() time.Time { return base.Add(30 * time.Second) }
	krl.Allow("b")

	removed := krl.prune(base.Add(90 * time.Second))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, krl.Len())
}

func TestKeyedRateLimiterStopIsIdempotent(t *testing.T) {
	krl := New(1, 1)
	krl.Stop()
	assert.NotPanics(t, krl.Stop)
}
