// Package confirmation holds the ConfirmationSession entity and the state
// machine it moves through.
package confirmation

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind distinguishes what a confirmation is for.
type Kind string

const (
	KindPortfolioBuy  Kind = "portfolioBuy"
	KindSwapExecute   Kind = "swapExecute"
)

// State is the confirmation session's lifecycle state.
type State string

const (
	StatePending     State = "Pending"
	StateConsumed    State = "Consumed"
	StateReconfirmed State = "Reconfirmed"
	StateCancelled   State = "Cancelled"
	StateExpired     State = "Expired"
)

// Quote is the minimal projection of a SwapQuote needed for the Slippage
// Policy comparison; the full quote (with its opaque raw bytes) lives in the
// quote package and is carried alongside this one in the session.
type Quote struct {
	OutputAmount decimal.Decimal
	SlippageBps  int64
}

// Session is a ConfirmationSession: a pending trade awaiting re-confirmation
// or submission.
type Session struct {
	ID              string
	PrincipalID     int64
	Kind            Kind
	Amount          decimal.Decimal
	Asset           string
	Quote           Quote
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ReconfirmCount  int
	State           State
}

// Expired reports whether the session can no longer be acted on.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// MaxSlippageExceeded applies the Slippage Policy precisely as specified:
// the fresh quote is materially worse than the original iff
// (orig.out - fresh.out) / orig.out > slippageBps/10_000. All arithmetic is
// decimal, never float64.
func MaxSlippageExceeded(original, fresh Quote) bool {
	if original.OutputAmount.IsZero() {
		return false
	}
	diff := original.OutputAmount.Sub(fresh.OutputAmount)
	ratio := diff.Div(original.OutputAmount)
	threshold := decimal.NewFromInt(original.SlippageBps).Div(decimal.NewFromInt(10_000))
	return ratio.GreaterThan(threshold)
}
