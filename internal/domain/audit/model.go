// Package audit holds the AuditEntry entity: an
// append-only record of every authorization mutation and swap submission.
package audit

import "time"

// Entry is a single audit row. Details is opaque, action-specific JSON.
type Entry struct {
	ID                int64
	ActorPrincipalID  int64
	Action            string
	TargetPrincipalID *int64
	Details           []byte
	CreatedAt         time.Time
}

// Common action names, kept as constants so callers never hand-type them.
const (
	ActionInviteGenerated = "invite.generated"
	ActionInviteActivated = "invite.activated"
	ActionRoleAdded       = "role.added"
	ActionRoleRemoved     = "role.removed"
	ActionRoleUpdated     = "role.updated"
	ActionSwapSubmitted   = "swap.submitted"
)
