// Package invite holds the InviteToken entity.
package invite

import (
	"time"

	"github.com/nodevault/custodian/internal/domain/authz"
)

// Token is a single-use invitation to join the authorized-principal set at
// a given role.
type Token struct {
	Token     string
	Role      authz.Role
	CreatedBy int64
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedBy    *int64
	UsedAt    *time.Time
}

// Activatable reports whether t can still be activated at instant now: not
// expired and not already used.
func (t Token) Activatable(now time.Time) bool {
	return t.UsedBy == nil && now.Before(t.ExpiresAt)
}
