package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteReordersByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))

		// Respond in reverse order to exercise id-based reconstruction.
		resp := make([]wireResponse, len(reqs))
		for i, req := range reqs {
			resp[len(reqs)-1-i] = wireResponse{ID: req.ID, Result: json.RawMessage(`"ok"`)}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewBatchRpcClient(srv.URL, srv.Client(), nil)
	results, err := client.Execute(context.Background(), []Call{
		{ID: 1, Method: "getnep17balances"},
		{ID: 2, Method: "getnep17balances"},
		{ID: 3, Method: "getnep17balances"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		require.Equal(t, int64(i+1), r.ID)
		require.True(t, r.OK())
	}
}

func TestExecuteMissingIDSynthesizesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := []wireResponse{{ID: 1, Result: json.RawMessage(`"ok"`)}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewBatchRpcClient(srv.URL, srv.Client(), nil)
	client.maxRetries = 0
	results, err := client.Execute(context.Background(), []Call{
		{ID: 1, Method: "getnep17balances"},
		{ID: 2, Method: "getnep17balances"},
	})
	require.NoError(t, err)
	require.True(t, results[0].OK())
	require.False(t, results[1].OK())
	require.Equal(t, -32603, results[1].Err.Code)
}

func TestExecuteSelectiveRetryOnlyRebatchesFailures(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		var reqs []wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))

		if n == 1 {
			require.Len(t, reqs, 2)
			resp := []wireResponse{
				{ID: 1, Result: json.RawMessage(`"ok"`)},
				{ID: 2, Error: &wireError{Code: -32000, Message: "temporary"}},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}

		// Second attempt should only rebatch the still-failing id 2.
		require.Len(t, reqs, 1)
		require.Equal(t, int64(2), reqs[0].ID)
		resp := []wireResponse{{ID: 2, Result: json.RawMessage(`"ok"`)}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := NewBatchRpcClient(srv.URL, srv.Client(), nil)
	client.retryConfig.InitialDelay = 0
	results, err := client.Execute(context.Background(), []Call{
		{ID: 1, Method: "getnep17balances"},
		{ID: 2, Method: "getnep17balances"},
	})
	require.NoError(t, err)
	require.True(t, results[0].OK())
	require.True(t, results[1].OK())
	require.Equal(t, int64(2), atomic.LoadInt64(&calls))
}
