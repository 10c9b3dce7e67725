// Package confirmation implements the Confirmation pipeline: a
// quote is previewed, then either confirmed (after a fresh re-quote passes
// the Slippage Policy), reconfirmed once, or cancelled.
package confirmation

import (
	"time"

	"github.com/nodevault/custodian/internal/apperrors"
	"github.com/nodevault/custodian/internal/cache"
	"github.com/nodevault/custodian/internal/domain/confirmation"
	"github.com/nodevault/custodian/internal/metrics"
	"github.com/nodevault/custodian/internal/token"
)

const sessionTTL = 2 * time.Minute

// FreshQuoteFunc fetches a new quote for the same (amount, asset) as the
// session's original quote; callers bind this to the real aggregator client
// (internal/quote) so this package stays free of HTTP/signing concerns.
type FreshQuoteFunc func(principalID int64, amount string, asset string) (confirmation.Quote, error)

// Outcome is the result of a Confirm call.
type Outcome string

const (
	OutcomeConsumed     Outcome = "consumed"
	OutcomeReconfirm    Outcome = "reconfirm"
	OutcomeMaxSlippage  Outcome = "max-slippage-exceeded"
)

// ConfirmResult carries the outcome plus, for OutcomeReconfirm, the
// replacement quote the caller should display.
type ConfirmResult struct {
	Outcome Outcome
	Session confirmation.Session
}

// Cache is the ConfirmationCache: a TTL-bounded map of pending sessions.
type Cache struct {
	cache *cache.Cache
}

// New builds a Cache.
func New() *Cache {
	return &Cache{cache: cache.New(cache.Config{DefaultTTL: sessionTTL, CleanupInterval: time.Minute})}
}

// Store creates a new Pending session and returns its id.
func (c *Cache) Store(principalID int64, kind confirmation.Kind, amount string, asset string, q confirmation.Quote) (string, error) {
	id, err := token.New()
	if err != nil {
		return "", apperrors.Unexpected(err)
	}

	amt, err := parseDecimalAmount(amount)
	if err != nil {
		return "", apperrors.InvalidAmount(err.Error())
	}

	sess := confirmation.Session{
		ID:          id,
		PrincipalID: principalID,
		Kind:        kind,
		Amount:      amt,
		Asset:       asset,
		Quote:       q,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(sessionTTL),
		State:       confirmation.StatePending,
	}
	c.cache.Set(id, sess, sessionTTL)
	return id, nil
}

// Get returns the session for id iff it exists, is unexpired, and belongs
// to principalID; cross-principal access and expiry both report "not found".
func (c *Cache) Get(id string, principalID int64) (confirmation.Session, error) {
	raw, ok := c.cache.Get(id)
	metrics.RecordCacheAccess("confirmation", ok)
	if !ok {
		return confirmation.Session{}, apperrors.NotFound("confirmation", id)
	}
	sess := raw.(confirmation.Session)
	if sess.Expired(time.Now()) {
		c.cache.Delete(id)
		return confirmation.Session{}, apperrors.NotFound("confirmation", id)
	}
	if sess.PrincipalID != principalID {
		return confirmation.Session{}, apperrors.NotFound("confirmation", id)
	}
	return sess, nil
}

// Cancel deletes the session and returns nil; it returns the Get error when
// the session is missing, expired or bound to another principal.
func (c *Cache) Cancel(id string, principalID int64) error {
	if _, err := c.Get(id, principalID); err != nil {
		return err
	}
	c.cache.Delete(id)
	return nil
}

// Confirm re-quotes via fetchFresh and applies the Slippage Policy:
//   - not breached: the session is atomically consumed (removed) and the
//     caller should proceed to submit.
//   - breached, first time: the quote is replaced, reconfirmCount++, expiry
//     resets, and the caller should re-prompt the user.
//   - breached, already reconfirmed once: the session is cancelled and
//     max-slippage-exceeded is reported.
func (c *Cache) Confirm(id string, principalID int64, fetchFresh FreshQuoteFunc) (ConfirmResult, error) {
	sess, err := c.Get(id, principalID)
	if err != nil {
		return ConfirmResult{}, err
	}

	fresh, err := fetchFresh(principalID, sess.Amount.String(), sess.Asset)
	if err != nil {
		return ConfirmResult{}, err
	}

	if !confirmation.MaxSlippageExceeded(sess.Quote, fresh) {
		c.cache.Delete(id)
		sess.State = confirmation.StateConsumed
		return ConfirmResult{Outcome: OutcomeConsumed, Session: sess}, nil
	}

	if sess.ReconfirmCount >= 1 {
		c.cache.Delete(id)
		sess.State = confirmation.StateCancelled
		return ConfirmResult{Outcome: OutcomeMaxSlippage, Session: sess}, apperrors.MaxReconfirms()
	}

	sess.Quote = fresh
	sess.ReconfirmCount++
	sess.ExpiresAt = time.Now().Add(sessionTTL)
	sess.State = confirmation.StateReconfirmed
	c.cache.Set(id, sess, sessionTTL)
	return ConfirmResult{Outcome: OutcomeReconfirm, Session: sess}, nil
}
