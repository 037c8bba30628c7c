package rng

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStep_Deterministic(t *testing.T) {
	t.Parallel()
	require.Equal(t, Step(1), Step(1))
	require.NotEqual(t, Step(1), Step(2))
}

func TestStep_ZeroIsFixedPoint(t *testing.T) {
	t.Parallel()
	// xorshift64 is a bijection on the nonzero 64-bit values; 0 is its
	// one fixed point: Step(0) stays 0 rather than panicking.
	// TestBuild_RetryAfterForcedSeedFailure relies on this to force a
	// peel failure.
	require.Equal(t, uint64(0), Step(0))
}

func TestRotl64(t *testing.T) {
	t.Parallel()
	require.Equal(t, uint64(1), Rotl64(1, 0))
	require.Equal(t, uint64(2), Rotl64(1, 1))
	require.Equal(t, uint64(1), Rotl64(1<<63, 1))
	require.Equal(t, Rotl64(0xABCD, 5), Rotl64(0xABCD, 5+64))
}

func TestNewSeed_VariesAcrossCalls(t *testing.T) {
	t.Parallel()
	a := NewSeed()
	b := NewSeed()
	require.NotEqual(t, a, b)
}
