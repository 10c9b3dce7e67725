// Package transaction holds the append-only Transaction entity: a
// successfully-submitted on-chain swap.
package transaction

import "time"

// Transaction is written only after on-chain submission succeeds (step
// 7); rows are never updated or deleted.
type Transaction struct {
	ID            int64
	PrincipalID   int64
	Signature     string
	Asset         string
	AmountQuote   string // decimal string; see internal/confirmation for arithmetic
	AmountAsset   string // the "native-amount" column, per the Open Question resolution in DESIGN.md
	CreatedAt     time.Time
}
