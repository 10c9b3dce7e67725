package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestGetQuoteParsesWireResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"inputMint":"A","outputMint":"B","inAmount":"10","outAmount":"9.5","otherAmountThreshold":"9.4","priceImpactPct":"0.01","slippageBps":50,"routePlan":[{"swapInfo":{"label":"Orca"}}]}`))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	q, err := c.GetQuote(context.Background(), QuoteParams{InputMint: "A", OutputMint: "B", Amount: decimal.NewFromInt(10), SlippageBps: 50})
	require.NoError(t, err)
	require.True(t, q.OutputAmount.Equal(decimal.RequireFromString("9.5")))
	require.Len(t, q.Route, 1)
	require.Equal(t, "Orca", q.Route[0].Label)
}

func TestGetQuoteSanitizesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream https://aggregator.internal/quote?api_key=aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa failed"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetQuote(context.Background(), QuoteParams{InputMint: "A", OutputMint: "B", Amount: decimal.NewFromInt(10)})
	require.Error(t, err)

	var qerr *QuoteError
	require.ErrorAs(t, err, &qerr)
	require.NotContains(t, qerr.Sanitized, "https://")
	require.NotContains(t, qerr.Sanitized, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
}
