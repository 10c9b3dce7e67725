package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAllowsUpToMaxThenDenies(t *testing.T) {
	l := NewLimiter(1000, 3)
	defer l.Stop()

	require.True(t, l.CheckAndRecord("k", 0))
	require.True(t, l.CheckAndRecord("k", 100))
	require.True(t, l.CheckAndRecord("k", 200))
	require.False(t, l.CheckAndRecord("k", 300))

	require.True(t, l.CheckAndRecord("k", 1050), "oldest timestamp has fallen out of the window by 1050ms")
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewLimiter(1000, 1)
	defer l.Stop()

	require.True(t, l.CheckAndRecord("a", 0))
	require.True(t, l.CheckAndRecord("b", 0))
	require.False(t, l.CheckAndRecord("a", 10))
}
