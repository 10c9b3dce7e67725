// Package purchase holds the simulation-mode Purchase entity.
package purchase

import "time"

// Purchase records a simulated DCA buy, independent of the real on-chain
// Transaction ledger.
type Purchase struct {
	ID          int64
	PrincipalID int64
	Asset       string
	AmountQuote string
	AmountAsset string
	PriceUSD    string
	CreatedAt   time.Time
}
