package oplock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusiveUntilExpiryOrRelease(t *testing.T) {
	l := NewLocker()
	defer l.Stop()

	now := time.Now()
	require.True(t, l.Acquire("swap:1", "owner-a", time.Minute, now))
	require.False(t, l.Acquire("swap:1", "owner-b", time.Minute, now))

	require.False(t, l.Release("swap:1", "owner-b"), "non-owner release must be a no-op")
	require.True(t, l.Release("swap:1", "owner-a"))

	require.True(t, l.Acquire("swap:1", "owner-b", time.Minute, now))
}

func TestAcquireSucceedsAfterExpiry(t *testing.T) {
	l := NewLocker()
	defer l.Stop()

	now := time.Now()
	require.True(t, l.Acquire("swap:1", "owner-a", time.Millisecond, now))

	later := now.Add(10 * time.Millisecond)
	require.True(t, l.Acquire("swap:1", "owner-b", time.Minute, later))
}
