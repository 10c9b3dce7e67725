package confirmation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	domain "github.com/nodevault/custodian/internal/domain/confirmation"
)

func quoteOf(out int64, slippageBps int64) domain.Quote {
	return domain.Quote{OutputAmount: decimal.NewFromInt(out), SlippageBps: slippageBps}
}

func TestConfirmWithinSlippageConsumes(t *testing.T) {
	c := New()
	id, err := c.Store(1, domain.KindSwapExecute, "10", "SOL", quoteOf(100, 100))
	require.NoError(t, err)

	result, err := c.Confirm(id, 1, func(int64, string, string) (domain.Quote, error) {
		return quoteOf(99, 100), nil // 1% drop, within 1% (100bps) threshold
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeConsumed, result.Outcome)

	_, err = c.Get(id, 1)
	require.Error(t, err, "consumed session must be gone")
}

func TestConfirmBreachThenMaxReconfirm(t *testing.T) {
	c := New()
	id, err := c.Store(1, domain.KindSwapExecute, "10", "SOL", quoteOf(100, 100))
	require.NoError(t, err)

	result, err := c.Confirm(id, 1, func(int64, string, string) (domain.Quote, error) {
		return quoteOf(98, 100), nil // 2% drop, breaches 1%
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeReconfirm, result.Outcome)

	result, err = c.Confirm(id, 1, func(int64, string, string) (domain.Quote, error) {
		return quoteOf(95, 100), nil
	})
	require.Error(t, err)
	require.Equal(t, OutcomeMaxSlippage, result.Outcome)

	_, err = c.Get(id, 1)
	require.Error(t, err, "cancelled session must be gone")
}

func TestGetRejectsCrossPrincipalAccess(t *testing.T) {
	c := New()
	id, err := c.Store(1, domain.KindSwapExecute, "10", "SOL", quoteOf(100, 100))
	require.NoError(t, err)

	_, err = c.Get(id, 2)
	require.Error(t, err)
}
