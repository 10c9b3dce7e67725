// Package portfolio holds the simulation-mode Portfolio entity: a singleton
// per-principal balance sheet.
package portfolio

import "time"

// Portfolio is a singleton per principal; Balances is non-negative and
// monotonic up within a session.
type Portfolio struct {
	PrincipalID int64
	Balances    map[string]string // asset -> decimal string
	UpdatedAt   time.Time
}
