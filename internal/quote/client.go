// Package quote implements the aggregator HTTP client: a
// routed-quote request and a signed-transaction-blueprint request, with
// sanitized error reporting (no URLs, API keys, or long opaque substrings
// reach callers).
package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nodevault/custodian/internal/domain/quote"
	"github.com/nodevault/custodian/internal/resilience"
)

const defaultTimeout = 10 * time.Second

// Client calls a third-party swap aggregator for routed quotes and signed
// transaction blueprints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
}

// Config configures New.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quote client: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: httpClient, breaker: cfg.Breaker}, nil
}

// QuoteParams requests a routed quote for an exact input amount.
type QuoteParams struct {
	InputMint   string
	OutputMint  string
	Amount      decimal.Decimal
	SlippageBps int64
}

// GetQuote requests a routed quote. Any non-2xx response is returned as a
// sanitized *QuoteError so callers never leak aggregator internals.
func (c *Client) GetQuote(ctx context.Context, p QuoteParams) (domain.Quote, error) {
	reqBody, err := json.Marshal(map[string]interface{}{
		"inputMint":   p.InputMint,
		"outputMint":  p.OutputMint,
		"amount":      p.Amount.String(),
		"slippageBps": p.SlippageBps,
	})
	if err != nil {
		return domain.Quote{}, fmt.Errorf("quote: marshal request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/quote", reqBody)
	if err != nil {
		return domain.Quote{}, &QuoteError{Sanitized: sanitize(err.Error())}
	}

	var wire wireQuote
	if err := json.Unmarshal(raw, &wire); err != nil {
		return domain.Quote{}, &QuoteError{Sanitized: "quote: malformed aggregator response"}
	}

	q, err := wire.toDomain(raw)
	if err != nil {
		return domain.Quote{}, &QuoteError{Sanitized: sanitize(err.Error())}
	}
	return q, nil
}

// BuildParams requests a signed-transaction blueprint for a previously
// fetched quote. OpaqueRaw is forwarded verbatim.
type BuildParams struct {
	OpaqueRaw         []byte
	UserPublicAddress string
	DynamicSlippage   bool
	PriorityFeeCeil   int64
}

// BuildResult carries the base64-encoded, unsigned transaction blueprint.
type BuildResult struct {
	Blueprint []byte
}

// GetSwapTransaction requests a signed-transaction blueprint.
func (c *Client) GetSwapTransaction(ctx context.Context, p BuildParams) (BuildResult, error) {
	var quoteResponse json.RawMessage = p.OpaqueRaw
	reqBody, err := json.Marshal(map[string]interface{}{
		"quoteResponse":     quoteResponse,
		"userPublicKey":     p.UserPublicAddress,
		"dynamicSlippage":   p.DynamicSlippage,
		"prioritizationFee": p.PriorityFeeCeil,
	})
	if err != nil {
		return BuildResult{}, fmt.Errorf("quote: marshal build request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/swap", reqBody)
	if err != nil {
		return BuildResult{}, &BuildError{Sanitized: sanitize(err.Error())}
	}

	var wire struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return BuildResult{}, &BuildError{Sanitized: "quote: malformed build response"}
	}
	return BuildResult{Blueprint: []byte(wire.SwapTransaction)}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var respBody []byte

	execute := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("aggregator request to %s failed with status %d: %s", c.baseURL+path, resp.StatusCode, string(data))
		}
		respBody = data
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, execute)
	} else {
		err = execute()
	}
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	return respBody, nil
}

type wireQuote struct {
	InputMint       string `json:"inputMint"`
	OutputMint      string `json:"outputMint"`
	InAmount        string `json:"inAmount"`
	OutAmount       string `json:"outAmount"`
	OtherAmount     string `json:"otherAmountThreshold"`
	PriceImpactPct  string `json:"priceImpactPct"`
	SlippageBps     int64  `json:"slippageBps"`
	RoutePlan       []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

func (w wireQuote) toDomain(raw []byte) (domain.Quote, error) {
	in, err := decimal.NewFromString(w.InAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse inAmount: %w", err)
	}
	out, err := decimal.NewFromString(w.OutAmount)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse outAmount: %w", err)
	}
	minOut, err := decimal.NewFromString(w.OtherAmount)
	if err != nil {
		minOut = out
	}
	impact, err := decimal.NewFromString(w.PriceImpactPct)
	if err != nil {
		impact = decimal.Zero
	}

	hops := make([]domain.RouteHop, 0, len(w.RoutePlan))
	for _, r := range w.RoutePlan {
		hops = append(hops, domain.RouteHop{Label: r.SwapInfo.Label})
	}

	return domain.Quote{
		InputMint:       w.InputMint,
		OutputMint:      w.OutputMint,
		InputAmount:     in,
		OutputAmount:    out,
		MinOutputAmount: minOut,
		PriceImpactPct:  impact,
		SlippageBps:     w.SlippageBps,
		Route:           hops,
		FetchedAt:       time.Now(),
		OpaqueRaw:       raw,
	}, nil
}

// QuoteError is a sanitized quote-request failure (terminal kind
// quoteError).
type QuoteError struct{ Sanitized string }

func (e *QuoteError) Error() string { return e.Sanitized }

// BuildError is a sanitized build-request failure (terminal kind
// buildError).
type BuildError struct{ Sanitized string }

func (e *BuildError) Error() string { return e.Sanitized }

var (
	urlPattern       = regexp.MustCompile(`https?://\S+`)
	bearerPattern    = regexp.MustCompile(`(?i)(bearer|api[-_]?key)\s+\S+`)
	longTokenPattern = regexp.MustCompile(`[A-Za-z0-9+/=_-]{40,}`)
)

// sanitize strips URLs, bearer/API-key headers, and any run of 40+
// alphanumeric characters (opaque tokens, base64 blobs) from err text before
// it is surfaced to a caller.
func sanitize(s string) string {
	s = urlPattern.ReplaceAllString(s, "[redacted-url]")
	s = bearerPattern.ReplaceAllString(s, "[redacted-credential]")
	s = longTokenPattern.ReplaceAllString(s, "[redacted-token]")
	return s
}
