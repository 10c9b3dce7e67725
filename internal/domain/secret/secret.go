// Package secret holds the in-memory SecretEntry used for one-time secret
// handoff: a single-consume, TTL-bounded value that never touches the
// database.
package secret

import "time"

// Entry is a single-use, AEAD-encrypted payload awaiting exactly one
// consumer. EncryptedPayload is produced by internal/crypto and is zeroed by
// the caller after Consume decrypts it.
type Entry struct {
	Token            string
	EncryptedPayload []byte
	PrincipalID      int64
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// Expired reports whether the entry is no longer consumable at instant now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
