// Package principal holds the Principal entity: the lazily-created custodial
// account for each authorized user.
package principal

import "time"

// Principal is created lazily on first contact with the engine.
// EncryptedSecret never leaves custody except through the secret-handoff
// flow (internal/secretstore); it is opaque AEAD ciphertext produced by
// internal/crypto.
type Principal struct {
	PrincipalID     int64
	Address         string
	EncryptedSecret []byte
	DCAActive       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasWallet reports whether the principal has signing material on file.
func (p Principal) HasWallet() bool {
	return len(p.EncryptedSecret) > 0 && p.Address != ""
}
