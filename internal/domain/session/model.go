// Package session holds the two-phase ImportSession/FormSession tokens used
// for wallet-key import.
package session

import "time"

// Import is the first-phase token: GET consumes it and mints a Form token.
type Import struct {
	Token       string
	PrincipalID int64
	ExpiresAt   time.Time
}

// Form is the second-phase, CSRF-style token: POST consumes it.
type Form struct {
	Token       string
	PrincipalID int64
	ExpiresAt   time.Time
}

func (i Import) Expired(now time.Time) bool { return !now.Before(i.ExpiresAt) }
func (f Form) Expired(now time.Time) bool   { return !now.Before(f.ExpiresAt) }
