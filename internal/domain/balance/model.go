// Package balance holds the BalanceSnapshot cache entity.
package balance

import "time"

// Snapshot is a cached balance read for one address. It is valid while
// now-FetchedAt < ttl and is force-invalidated immediately after any
// successful submission for that address.
type Snapshot struct {
	Native    string            // decimal string, native-coin balance
	PlusMap   map[string]string // asset -> decimal string, SPL/other balances
	FetchedAt time.Time
}

// Fresh reports whether the snapshot is still usable at instant now given
// ttl.
func (s Snapshot) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.FetchedAt) < ttl
}
