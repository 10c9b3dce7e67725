package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Submitter sends a signed, serialized transaction to the network and polls
// for a single confirmation.
type Submitter struct {
	client *BatchRpcClient
}

// NewSubmitter builds a Submitter over an existing BatchRpcClient so
// submission shares the same circuit breaker and retry policy as balance
// reads.
func NewSubmitter(client *BatchRpcClient) *Submitter {
	return &Submitter{client: client}
}

// SubmitResult reports the outcome of a send-and-confirm cycle.
type SubmitResult struct {
	Signature string
	Confirmed bool // false on a confirmation-poll timeout; the send itself still succeeded
}

// Submit broadcasts the signed transaction bytes and polls getapplicationlog
// for confirmation up to confirmTimeout. A poll timeout yields
// {Confirmed: false} rather than an error, since the submission itself
// succeeded.
func (s *Submitter) Submit(ctx context.Context, signedTx []byte, confirmTimeout time.Duration) (SubmitResult, error) {
	encoded := base64.StdEncoding.EncodeToString(signedTx)

	results, err := s.client.Execute(ctx, []Call{
		{ID: 1, Method: "sendrawtransaction", Params: []interface{}{encoded}},
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("chain: submit transaction: %w", err)
	}
	if !results[0].OK() {
		return SubmitResult{}, fmt.Errorf("chain: submit transaction: %w", results[0].Err)
	}

	var sendResp struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(results[0].Value, &sendResp); err != nil {
		return SubmitResult{}, fmt.Errorf("chain: decode submit response: %w", err)
	}

	confirmed := s.pollConfirmation(ctx, sendResp.Hash, confirmTimeout)
	return SubmitResult{Signature: sendResp.Hash, Confirmed: confirmed}, nil
}

// pollConfirmation polls getapplicationlog until it succeeds, ctx is
// cancelled, or timeout elapses, whichever comes first.
func (s *Submitter) pollConfirmation(ctx context.Context, txHash string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		results, err := s.client.Execute(ctx, []Call{
			{ID: 1, Method: "getapplicationlog", Params: []interface{}{txHash}},
		})
		if err == nil && results[0].OK() {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
