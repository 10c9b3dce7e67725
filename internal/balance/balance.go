// Package balance implements the cached balance repository: a
// TTL-bounded snapshot cache in front of the batch RPC client, with a
// concurrent-query fallback on batch failure and explicit invalidation
// after every successful submission.
package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nodevault/custodian/internal/chain"
	domain "github.com/nodevault/custodian/internal/domain/balance"
	"github.com/nodevault/custodian/internal/metrics"
)

// Repository answers getBalances/invalidate backed by a TTL cache and a
// BatchRpcClient.
type Repository struct {
	mu      sync.Mutex
	entries map[string]domain.Snapshot

	client *chain.BatchRpcClient
	assets []string
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewRepository builds a Repository tracking native balance plus the given
// asset script hashes.
func NewRepository(client *chain.BatchRpcClient, trackedAssets []string, ttl time.Duration) *Repository {
	return &Repository{
		entries: make(map[string]domain.Snapshot),
		client:  client,
		assets:  trackedAssets,
		ttl:     ttl,
		nowFn:   time.Now,
	}
}

// GetBalances returns the cached snapshot for addr if still fresh, otherwise
// refetches via a single batch call (falling back to one concurrent call per
// balance, native plus each tracked asset, on batch failure) and caches the
// result atomically.
func (r *Repository) GetBalances(ctx context.Context, addr string) (domain.Snapshot, error) {
	now := r.nowFn()

	r.mu.Lock()
	if snap, ok := r.entries[addr]; ok && snap.Fresh(now, r.ttl) {
		r.mu.Unlock()
		metrics.RecordCacheAccess("balance", true)
		return snap, nil
	}
	r.mu.Unlock()
	metrics.RecordCacheAccess("balance", false)

	snap, err := r.fetchBatch(ctx, addr)
	if err != nil {
		snap, err = r.fetchConcurrent(ctx, addr)
		if err != nil {
			return domain.Snapshot{}, err
		}
	}
	snap.FetchedAt = now

	r.mu.Lock()
	r.entries[addr] = snap
	r.mu.Unlock()

	return snap, nil
}

// Invalidate deletes addr's cached snapshot; the next GetBalances call for
// addr will always refetch.
func (r *Repository) Invalidate(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, addr)
}

// fetchBatch issues one HTTP envelope fetching the native balance plus every
// tracked SPL asset balance.
func (r *Repository) fetchBatch(ctx context.Context, addr string) (domain.Snapshot, error) {
	calls := make([]chain.Call, 0, len(r.assets)+1)
	calls = append(calls, chain.Call{ID: 0, Method: "getnep17balances", Params: []interface{}{addr}})
	for i, asset := range r.assets {
		calls = append(calls, chain.Call{ID: int64(i + 1), Method: "getnep17balances", Params: []interface{}{addr, asset}})
	}

	results, err := r.client.Execute(ctx, calls)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("balance: batch fetch: %w", err)
	}

	snap := domain.Snapshot{PlusMap: make(map[string]string, len(r.assets))}
	for i, res := range results {
		if !res.OK() {
			return domain.Snapshot{}, fmt.Errorf("balance: batch fetch sub-call %d: %w", i, res.Err)
		}
		amount, err := decodeBalanceAmount(res.Value)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if i == 0 {
			snap.Native = amount
		} else {
			snap.PlusMap[r.assets[i-1]] = amount
		}
	}
	return snap, nil
}

// fetchConcurrent queries native + each tracked asset balance independently,
// used when a batch-level fetch fails outright.
func (r *Repository) fetchConcurrent(ctx context.Context, addr string) (domain.Snapshot, error) {
	type outcome struct {
		index  int
		amount string
		err    error
	}

	total := len(r.assets) + 1
	out := make(chan outcome, total)
	var wg sync.WaitGroup

	query := func(index int, call chain.Call) {
		defer wg.Done()
		results, err := r.client.Execute(ctx, []chain.Call{call})
		if err != nil {
			out <- outcome{index: index, err: err}
			return
		}
		if !results[0].OK() {
			out <- outcome{index: index, err: results[0].Err}
			return
		}
		amount, err := decodeBalanceAmount(results[0].Value)
		out <- outcome{index: index, amount: amount, err: err}
	}

	wg.Add(total)
	go query(0, chain.Call{ID: 0, Method: "getnep17balances", Params: []interface{}{addr}})
	for i, asset := range r.assets {
		go query(i+1, chain.Call{ID: 0, Method: "getnep17balances", Params: []interface{}{addr, asset}})
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	snap := domain.Snapshot{PlusMap: make(map[string]string, len(r.assets))}
	var firstErr error
	for o := range out {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		if o.index == 0 {
			snap.Native = o.amount
		} else {
			snap.PlusMap[r.assets[o.index-1]] = o.amount
		}
	}
	if firstErr != nil {
		return domain.Snapshot{}, fmt.Errorf("balance: concurrent fetch: %w", firstErr)
	}
	return snap, nil
}

func decodeBalanceAmount(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("balance: unrecognized balance encoding: %s", string(raw))
}
