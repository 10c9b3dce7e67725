// Package deadletter holds the DeadLetterTransaction entity: a
// reconciliation record for a swap that succeeded on-chain but failed to
// persist as a Transaction row.
package deadletter

import "time"

// Transaction records an on-chain-successful swap whose Transaction-row
// write failed; it is never auto-deleted and exists purely for manual
// reconciliation.
type Transaction struct {
	ID            int64
	PrincipalID   int64
	Signature     string
	Asset         string
	AmountQuote   string
	AmountAsset   string
	PersistError  string
	CreatedAt     time.Time
}
