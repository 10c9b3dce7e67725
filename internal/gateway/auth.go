package gateway

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the principal behind a gateway session, minted after a
// successful secret/import handoff so the caller doesn't have to replay the
// handoff on every subsequent command.
type Claims struct {
	PrincipalID int64 `json:"principal_id"`
	jwt.RegisteredClaims
}

// SessionManager issues and validates the short-lived session JWTs that
// authenticate dispatcher requests.
type SessionManager struct {
	secret []byte
}

// NewSessionManager builds a SessionManager. secret must be non-empty.
func NewSessionManager(secret string) (*SessionManager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("gateway session secret not configured")
	}
	return &SessionManager{secret: []byte(secret)}, nil
}

// Issue returns a signed session token for principalID valid for ttl.
func (m *SessionManager) Issue(principalID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		PrincipalID: principalID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(m.secret)
}

// newUnverifiedParser returns a jwt.Parser used only to peek at claims
// before the signature has been checked (see peekClaimsUnverified).
func newUnverifiedParser() *jwt.Parser {
	return jwt.NewParser()
}

// Validate parses and verifies a session token, returning its claims.
func (m *SessionManager) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}
