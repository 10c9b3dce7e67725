package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetExpiresLazily(t *testing.T) {
	c := New(Config{DefaultTTL: 10 * time.Millisecond, CleanupInterval: time.Hour})
	defer c.Stop()

	c.Set("k", "v", 10*time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestTakeIsSingleConsumer(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, CleanupInterval: time.Hour})
	defer c.Stop()

	c.Set("k", "payload", time.Minute)

	var wg sync.WaitGroup
	var successes int32
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := c.Take("k"); ok {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, successes)
}

func TestReapRemovesExpiredEntries(t *testing.T) {
	c := New(Config{DefaultTTL: time.Millisecond, CleanupInterval: time.Hour})
	defer c.Stop()

	c.Set("a", 1, time.Millisecond)
	c.Set("b", 2, time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed := c.Reap(time.Now())
	require.Equal(t, 1, removed)
	require.Equal(t, 1, c.Len())
}
