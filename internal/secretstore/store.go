// Package secretstore implements the one-time secret handoff:
// SecretStore (single-consume encrypted payload) and ImportSession
// (two-phase import-token -> form-token exchange).
package secretstore

import (
	"fmt"
	"time"

	"github.com/nodevault/custodian/internal/apperrors"
	"github.com/nodevault/custodian/internal/cache"
	"github.com/nodevault/custodian/internal/crypto"
	"github.com/nodevault/custodian/internal/domain/secret"
	"github.com/nodevault/custodian/internal/domain/session"
	"github.com/nodevault/custodian/internal/token"
)

const (
	secretTTL = 10 * time.Minute
	importTTL = 10 * time.Minute
	formTTL   = 5 * time.Minute
)

// SecretStore hands a principal's encrypted signing material to exactly one
// consumer via a single-use public URL.
type SecretStore struct {
	custody *crypto.KeyCustody
	cache   *cache.Cache
}

// NewSecretStore builds a SecretStore backed by custody for encryption and
// its own TTL cache for token bookkeeping.
func NewSecretStore(custody *crypto.KeyCustody) *SecretStore {
	return &SecretStore{custody: custody, cache: cache.New(cache.Config{DefaultTTL: secretTTL, CleanupInterval: time.Minute})}
}

// Store encrypts payload under principalID's subject scope and returns a
// fresh token identifying it.
func (s *SecretStore) Store(principalID int64, payload []byte) (string, error) {
	tok, err := token.New()
	if err != nil {
		return "", apperrors.Unexpected(err)
	}

	subject := subjectFor(principalID)
	blob, err := s.custody.Encrypt(subject, crypto.InfoSecretHandoff, payload)
	if err != nil {
		return "", err
	}

	entry := secret.Entry{
		Token:            tok,
		EncryptedPayload: []byte(blob),
		PrincipalID:      principalID,
		CreatedAt:        time.Now(),
		ExpiresAt:        time.Now().Add(secretTTL),
	}
	s.cache.Set(tok, entry, secretTTL)
	return tok, nil
}

// Consume atomically gets-and-deletes the entry for tok, decrypts it, and
// returns the plaintext payload. A second call for the same token observes
// "not found".
func (s *SecretStore) Consume(tok string) ([]byte, error) {
	if !token.Valid(tok) {
		return nil, apperrors.NotFound("secret", tok)
	}
	raw, ok := s.cache.Take(tok)
	if !ok {
		return nil, apperrors.NotFound("secret", tok)
	}
	entry := raw.(secret.Entry)
	if entry.Expired(time.Now()) {
		return nil, apperrors.NotFound("secret", tok)
	}

	subject := subjectFor(entry.PrincipalID)
	plaintext, err := s.custody.Decrypt(subject, crypto.InfoSecretHandoff, string(entry.EncryptedPayload))
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// ImportSession implements the two-phase import-token -> form-token
// exchange: a GET against the import-token mints a form-token, and only the
// form-token's POST actually imports the key. This defeats the race where an
// observer of the first URL could race the legitimate form submission.
type ImportSession struct {
	imports *cache.Cache
	forms   *cache.Cache
}

// NewImportSession builds an ImportSession with independent TTL caches for
// its two phases.
func NewImportSession() *ImportSession {
	return &ImportSession{
		imports: cache.New(cache.Config{DefaultTTL: importTTL, CleanupInterval: time.Minute}),
		forms:   cache.New(cache.Config{DefaultTTL: formTTL, CleanupInterval: time.Minute}),
	}
}

// Store mints a fresh import-token for principalID.
func (s *ImportSession) Store(principalID int64) (string, error) {
	tok, err := token.New()
	if err != nil {
		return "", apperrors.Unexpected(err)
	}
	s.imports.Set(tok, session.Import{Token: tok, PrincipalID: principalID, ExpiresAt: time.Now().Add(importTTL)}, importTTL)
	return tok, nil
}

// BeginForm consumes importToken (GET semantics) and mints a form-token
// bound to the same principal.
func (s *ImportSession) BeginForm(importToken string) (string, error) {
	if !token.Valid(importToken) {
		return "", apperrors.NotFound("import-session", importToken)
	}
	raw, ok := s.imports.Take(importToken)
	if !ok {
		return "", apperrors.NotFound("import-session", importToken)
	}
	imp := raw.(session.Import)
	if imp.Expired(time.Now()) {
		return "", apperrors.NotFound("import-session", importToken)
	}

	formTok, err := token.New()
	if err != nil {
		return "", apperrors.Unexpected(err)
	}
	s.forms.Set(formTok, session.Form{Token: formTok, PrincipalID: imp.PrincipalID, ExpiresAt: time.Now().Add(formTTL)}, formTTL)
	return formTok, nil
}

// CompleteForm consumes formToken (POST semantics), returning the bound
// principal id.
func (s *ImportSession) CompleteForm(formToken string) (int64, error) {
	if !token.Valid(formToken) {
		return 0, apperrors.NotFound("form-session", formToken)
	}
	raw, ok := s.forms.Take(formToken)
	if !ok {
		return 0, apperrors.NotFound("form-session", formToken)
	}
	form := raw.(session.Form)
	if form.Expired(time.Now()) {
		return 0, apperrors.NotFound("form-session", formToken)
	}
	return form.PrincipalID, nil
}

func subjectFor(principalID int64) []byte {
	return []byte(fmt.Sprintf("principal:%d", principalID))
}
