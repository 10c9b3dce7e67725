// Package token generates and validates the 128-bit, url-safe tokens shared
// by SecretStore, ImportSession, ConfirmationCache and InviteToken.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"regexp"
)

// Pattern matches the token format: 22 url-safe base64
// characters, i.e. 128 random bits with no padding.
var Pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)

// New returns a fresh 128-bit random token rendered as 22 url-safe base64
// characters.
func New() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Valid reports whether s matches the required token format.
func Valid(s string) bool {
	return Pattern.MatchString(s)
}
