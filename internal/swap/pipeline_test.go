package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/require"

	"github.com/nodevault/custodian/internal/balance"
	"github.com/nodevault/custodian/internal/chain"
	domaindeadletter "github.com/nodevault/custodian/internal/domain/deadletter"
	domaintx "github.com/nodevault/custodian/internal/domain/transaction"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/oplock"
	"github.com/nodevault/custodian/internal/quote"
)

type fakeSigner struct{}

func (fakeSigner) ScriptHash() util.Uint160                                    { return util.Uint160{} }
func (fakeSigner) GetVerificationScript() []byte                               { return []byte{1} }
func (fakeSigner) SignTx(net netmode.Magic, tx *transaction.Transaction) error { return nil }
func (fakeSigner) Sign(ctx context.Context, data []byte) ([]byte, error)       { return data, nil }

// markingSigner appends a suffix to whatever it signs, so a test can prove
// the submitted payload actually passed through Sign rather than the raw
// unsigned blueprint being sent as-is.
type markingSigner struct{ suffix []byte }

func (markingSigner) ScriptHash() util.Uint160                                    { return util.Uint160{} }
func (markingSigner) GetVerificationScript() []byte                               { return []byte{1} }
func (markingSigner) SignTx(net netmode.Magic, tx *transaction.Transaction) error  { return nil }
func (m markingSigner) Sign(ctx context.Context, data []byte) ([]byte, error) {
	return append(append([]byte{}, data...), m.suffix...), nil
}

type fakeTxStore struct{ saved []domaintx.Transaction }

func (s *fakeTxStore) CreateTransaction(ctx context.Context, tx domaintx.Transaction) error {
	s.saved = append(s.saved, tx)
	return nil
}
func (s *fakeTxStore) ListTransactions(ctx context.Context, principalID int64, limit int) ([]domaintx.Transaction, error) {
	return s.saved, nil
}

type fakeDeadLetterStore struct{ saved []domaindeadletter.Transaction }

func (s *fakeDeadLetterStore) CreateDeadLetter(ctx context.Context, dl domaindeadletter.Transaction) error {
	s.saved = append(s.saved, dl)
	return nil
}
func (s *fakeDeadLetterStore) ListDeadLetters(ctx context.Context, limit int) ([]domaindeadletter.Transaction, error) {
	return s.saved, nil
}

func TestExecuteHappyPathEmitsFramesInOrderEndingInSuccess(t *testing.T) {
	quoteSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			w.Write([]byte(`{"inputMint":"USDC","outputMint":"NEO","inAmount":"10","outAmount":"1","otherAmountThreshold":"0.99","priceImpactPct":"0.001","slippageBps":100,"routePlan":[]}`))
		case "/swap":
			w.Write([]byte(`{"swapTransaction":"deadbeef"}`))
		}
	}))
	defer quoteSrv.Close()

	var sentParam string
	rpcSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []struct {
			ID     int64         `json:"id"`
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		resp := make([]map[string]interface{}, len(reqs))
		for i, req := range reqs {
			switch req.Method {
			case "getnep17balances":
				resp[i] = map[string]interface{}{"id": req.ID, "result": "100"}
			case "sendrawtransaction":
				sentParam, _ = req.Params[0].(string)
				resp[i] = map[string]interface{}{"id": req.ID, "result": map[string]interface{}{"hash": "0xabc"}}
			case "getapplicationlog":
				resp[i] = map[string]interface{}{"id": req.ID, "result": map[string]interface{}{"txid": "0xabc"}}
			}
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer rpcSrv.Close()

	rpcClient := chain.NewBatchRpcClient(rpcSrv.URL, rpcSrv.Client(), nil)
	quoteClient, err := quote.New(quote.Config{BaseURL: quoteSrv.URL})
	require.NoError(t, err)

	txStore := &fakeTxStore{}
	dlStore := &fakeDeadLetterStore{}
	locks := oplock.NewLocker()
	defer locks.Stop()

	signer := markingSigner{suffix: []byte(":signed")}
	exec := New(Config{
		QuoteMint:     "USDC",
		ResolveSigner: func(ctx context.Context, principalID int64) (chain.TxSigner, string, error) { return signer, "addr1", nil },
		ResolveAsset:  func(asset string) (string, bool) { return "NEO", true },
		Balances:      balance.NewRepository(rpcClient, nil, time.Minute),
		QuoteClient:   quoteClient,
		Submitter:     chain.NewSubmitter(rpcClient),
		Locks:         locks,
		Transactions:  txStore,
		DeadLetters:   dlStore,
		ConfirmTimeout: time.Second,
		Logger:        logging.NewDefault(),
	})

	var kinds []FrameKind
	for f := range exec.Execute(context.Background(), 1, "5", "NEO") {
		kinds = append(kinds, f.Kind)
	}

	require.Equal(t, []FrameKind{
		FrameGettingQuote, FrameQuoteReceived, FrameBuildingTransaction,
		FrameSendingTransaction, FrameSuccess,
	}, kinds)
	require.Len(t, txStore.saved, 1)
	require.Empty(t, dlStore.saved)

	sentBytes, err := base64.StdEncoding.DecodeString(sentParam)
	require.NoError(t, err)
	require.Equal(t, "deadbeef:signed", string(sentBytes))
}

func TestExecuteInvalidAmountShortCircuits(t *testing.T) {
	locks := oplock.NewLocker()
	defer locks.Stop()
	exec := New(Config{
		ResolveAsset: func(asset string) (string, bool) { return "NEO", true },
		Locks:        locks,
		Logger:       logging.NewDefault(),
	})

	var kinds []FrameKind
	for f := range exec.Execute(context.Background(), 1, "0", "NEO") {
		kinds = append(kinds, f.Kind)
	}
	require.Equal(t, []FrameKind{FrameInvalidAmount}, kinds)
}
