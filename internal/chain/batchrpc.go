package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nodevault/custodian/internal/resilience"
)

// Call is one JSON-RPC 2.0 sub-call within a batch.
type Call struct {
	ID     int64
	Method string
	Params []interface{}
}

// RPCError is a single sub-call failure, shaped like JSON-RPC 2.0's error
// object.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// errMissingResponse is synthesized for any request id absent from the
// server's response array.
func errMissingResponse() *RPCError {
	return &RPCError{Code: -32603, Message: "missing response"}
}

// Result is one sub-call's outcome: exactly one of Value or Err is set.
type Result struct {
	ID    int64
	Value json.RawMessage
	Err   *RPCError
}

// OK reports whether the sub-call succeeded.
func (r Result) OK() bool { return r.Err == nil }

type wireRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wireResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *wireError      `json:"error"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BatchRpcClient issues a single HTTP POST carrying an ordered batch of
// JSON-RPC 2.0 calls against a NEO N3 node, reconstructing call order by id
// since the server's response array is unordered. Envelope-level failures
// (HTTP 429, transport errors, or any sub-call failing) are retried with
// selective rebatching: only the still-failing sub-calls are resent, and
// prior successes carry over into the final result set.
type BatchRpcClient struct {
	endpoint    string
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	maxRetries  int
	retryConfig resilience.RetryConfig
}

// NewBatchRpcClient builds a client against a single RPC endpoint.
func NewBatchRpcClient(endpoint string, httpClient *http.Client, breaker *resilience.CircuitBreaker) *BatchRpcClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &BatchRpcClient{
		endpoint:   endpoint,
		httpClient: httpClient,
		breaker:    breaker,
		maxRetries: 3,
		retryConfig: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		},
	}
}

// Execute runs calls as a single batch, selectively retrying any sub-calls
// that fail (or the whole envelope, on an HTTP 429) up to maxRetries times.
// Results are always returned in the order calls was given, regardless of
// the order the server answered in.
func (c *BatchRpcClient) Execute(ctx context.Context, calls []Call) ([]Result, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	final := make(map[int64]Result, len(calls))
	pending := calls

	for attempt := 0; attempt <= c.maxRetries && len(pending) > 0; attempt++ {
		if attempt > 0 {
			if err := c.backoffSleep(ctx, attempt); err != nil {
				return nil, err
			}
		}

		results, envelopeErr := c.post(ctx, pending)
		if envelopeErr != nil {
			if attempt == c.maxRetries {
				return nil, envelopeErr
			}
			continue // envelope-level failure (429/transport): retry the whole pending set
		}

		var stillFailing []Call
		for _, call := range pending {
			r, ok := results[call.ID]
			if !ok {
				r = Result{ID: call.ID, Err: errMissingResponse()}
			}
			if r.OK() {
				final[call.ID] = r
			} else if attempt < c.maxRetries {
				stillFailing = append(stillFailing, call)
			} else {
				final[call.ID] = r
			}
		}
		pending = stillFailing
	}

	ordered := make([]Result, len(calls))
	for i, call := range calls {
		if r, ok := final[call.ID]; ok {
			ordered[i] = r
		} else {
			ordered[i] = Result{ID: call.ID, Err: errMissingResponse()}
		}
	}
	return ordered, nil
}

func (c *BatchRpcClient) backoffSleep(ctx context.Context, attempt int) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryConfig.InitialDelay
	bo.MaxInterval = c.retryConfig.MaxDelay
	bo.Multiplier = c.retryConfig.Multiplier
	bo.RandomizationFactor = c.retryConfig.Jitter
	bo.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = bo.NextBackOff()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// post sends one HTTP envelope for the given calls and parses the response
// into a per-id result map. An error here is an envelope-level failure
// (transport, HTTP 429, or malformed body) distinct from individual sub-call
// RPC errors, which are returned inside the map.
func (c *BatchRpcClient) post(ctx context.Context, calls []Call) (map[int64]Result, error) {
	body := make([]wireRequest, len(calls))
	for i, call := range calls {
		body[i] = wireRequest{JSONRPC: "2.0", ID: call.ID, Method: call.Method, Params: call.Params}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("chain: marshal batch: %w", err)
	}

	doPost := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, func() error {
			var execErr error
			resp, execErr = doPost()
			return execErr
		})
	} else {
		resp, err = doPost()
	}
	if err != nil {
		return nil, fmt.Errorf("chain: batch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("chain: batch request rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chain: batch request status %d", resp.StatusCode)
	}

	var wire []wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("chain: decode batch response: %w", err)
	}

	results := make(map[int64]Result, len(wire))
	for _, w := range wire {
		if w.Error != nil {
			results[w.ID] = Result{ID: w.ID, Err: &RPCError{Code: w.Error.Code, Message: w.Error.Message, Data: w.Error.Data}}
			continue
		}
		results[w.ID] = Result{ID: w.ID, Value: w.Result}
	}
	return results, nil
}
