// Package quote holds the SwapQuote entity: an ephemeral routed quote
// from the third-party aggregator.
package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// RouteHop is one leg of the aggregator's chosen route; fields beyond the
// identifying ones are opaque display metadata.
type RouteHop struct {
	Label string
}

// Quote is a routed swap quote. OpaqueRaw must be carried verbatim into the
// build step — it is never re-serialized or reconstructed from
// the typed fields.
type Quote struct {
	InputMint        string
	OutputMint       string
	InputAmount      decimal.Decimal
	OutputAmount     decimal.Decimal
	MinOutputAmount  decimal.Decimal
	PriceImpactPct   decimal.Decimal
	SlippageBps      int64
	Route            []RouteHop
	FetchedAt        time.Time
	OpaqueRaw        []byte
}
