// Package crypto implements the key-custody AEAD envelope: a
// 256-bit master key, imported once and bound to a handle that never
// exports its raw bytes, deriving a per-subject/per-info sub-key via
// HMAC-SHA256 before every AES-256-GCM operation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/nodevault/custodian/internal/apperrors"
)

// Domain-separation strings for the two entity kinds this engine encrypts.
const (
	InfoSigningMaterial = "signing-material"
	InfoSecretHandoff   = "secret-handoff"
)

const nonceSize = 12 // 96-bit
const tagSize = 16   // 128-bit GCM tag

// KeyCustody holds the master key for process lifetime. The zero value is
// uninitialized and every operation on it fails; NewKeyCustody imports the
// key once into a new handle, and nothing re-keys an existing handle.
type KeyCustody struct {
	masterKey []byte
}

// NewKeyCustody imports raw (which must be exactly 32 bytes) into a new
// handle and zeroes the caller's copy of raw.
func NewKeyCustody(raw []byte) (*KeyCustody, error) {
	if len(raw) != 32 {
		return nil, apperrors.Encryption(fmt.Errorf("master key must be 32 bytes, got %d", len(raw)))
	}
	owned := make([]byte, 32)
	copy(owned, raw)
	zero(raw)
	return &KeyCustody{masterKey: owned}, nil
}

// Zero overwrites the handle's key material; after Zero every subsequent
// operation fails as uninitialized. Intended for process shutdown only.
func (k *KeyCustody) Zero() {
	zero(k.masterKey)
	k.masterKey = nil
}

func (k *KeyCustody) initialized() bool {
	return k != nil && len(k.masterKey) == 32
}

func deriveKey(masterKey, subject []byte, info string) []byte {
	mac := hmac.New(sha256.New, masterKey)
	_, _ = mac.Write([]byte(info))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write(subject)
	return mac.Sum(nil)
}

func aad(subject []byte, info string) []byte {
	buf := make([]byte, 0, len(info)+1+len(subject))
	buf = append(buf, info...)
	buf = append(buf, 0)
	buf = append(buf, subject...)
	return buf
}

// Encrypt produces nonce‖ciphertext‖tag, url-safe base64 encoded, using a
// key derived from (masterKey, subject, info). subject scopes the
// derivation to one entity (e.g. a principal id); info domain-separates
// entity kinds (InfoSigningMaterial vs InfoSecretHandoff).
func (k *KeyCustody) Encrypt(subject []byte, info string, plaintext []byte) (string, error) {
	if !k.initialized() {
		return "", apperrors.Encryption(fmt.Errorf("key custody not initialized"))
	}

	aeadCipher, err := k.newAEAD(subject, info)
	if err != nil {
		return "", apperrors.Encryption(err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", apperrors.Encryption(fmt.Errorf("read nonce: %w", err))
	}

	sealed := aeadCipher.Seal(nil, nonce, plaintext, aad(subject, info))

	buf := make([]byte, 0, len(nonce)+len(sealed))
	buf = append(buf, nonce...)
	buf = append(buf, sealed...)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. It fails with a single opaque apperrors.Encryption
// kind on tag mismatch, truncation, bad encoding, or an uninitialized handle
// — callers must not distinguish these cases.
func (k *KeyCustody) Decrypt(subject []byte, info string, blob string) ([]byte, error) {
	if !k.initialized() {
		return nil, apperrors.Encryption(fmt.Errorf("key custody not initialized"))
	}

	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return nil, apperrors.Encryption(fmt.Errorf("decode envelope: %w", err))
	}
	if len(raw) < nonceSize+tagSize {
		return nil, apperrors.Encryption(fmt.Errorf("envelope truncated"))
	}

	aeadCipher, err := k.newAEAD(subject, info)
	if err != nil {
		return nil, apperrors.Encryption(err)
	}

	nonce, body := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aeadCipher.Open(nil, nonce, body, aad(subject, info))
	if err != nil {
		return nil, apperrors.Encryption(fmt.Errorf("open envelope: %w", err))
	}
	return plaintext, nil
}

func (k *KeyCustody) newAEAD(subject []byte, info string) (cipher.AEAD, error) {
	key := deriveKey(k.masterKey, subject, info)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// IsEncrypted is a structural check used only by one-shot migration: it
// reports whether value parses as url-safe base64 of length at least
// nonce+minPayload+tag, without attempting to decrypt it.
func IsEncrypted(value string, minPayload int) bool {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	return len(raw) >= nonceSize+minPayload+tagSize
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
