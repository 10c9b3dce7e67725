package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodevault/custodian/internal/chain"
)

type wireRequest struct {
	ID int64 `json:"id"`
}
type wireResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
}

func TestGetBalancesServesFromCacheWithinTTL(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		var reqs []wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		resp := make([]wireResponse, len(reqs))
		for i, req := range reqs {
			resp[i] = wireResponse{ID: req.ID, Result: json.RawMessage(`"100"`)}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := chain.NewBatchRpcClient(srv.URL, srv.Client(), nil)
	repo := NewRepository(client, nil, time.Minute)

	snap, err := repo.GetBalances(context.Background(), "addr1")
	require.NoError(t, err)
	require.Equal(t, "100", snap.Native)

	_, err = repo.GetBalances(context.Background(), "addr1")
	require.NoError(t, err)
	require.Equal(t, int64(1), atomic.LoadInt64(&hits), "second call within TTL must be served from cache")
}

func TestInvalidateForcesRefetch(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		var reqs []wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		resp := make([]wireResponse, len(reqs))
		for i, req := range reqs {
			resp[i] = wireResponse{ID: req.ID, Result: json.RawMessage(`"50"`)}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	client := chain.NewBatchRpcClient(srv.URL, srv.Client(), nil)
	repo := NewRepository(client, nil, time.Minute)

	_, err := repo.GetBalances(context.Background(), "addr1")
	require.NoError(t, err)

	repo.Invalidate("addr1")

	_, err = repo.GetBalances(context.Background(), "addr1")
	require.NoError(t, err)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}
