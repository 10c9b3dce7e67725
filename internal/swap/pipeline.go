// Package swap implements the execution pipeline: a sequence of
// suspension points emitted as a lazy stream of progress frames followed by
// exactly one terminal frame.
package swap

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nodevault/custodian/internal/apperrors"
	"github.com/nodevault/custodian/internal/balance"
	"github.com/nodevault/custodian/internal/chain"
	"github.com/nodevault/custodian/internal/domain/deadletter"
	"github.com/nodevault/custodian/internal/domain/transaction"
	"github.com/nodevault/custodian/internal/logging"
	"github.com/nodevault/custodian/internal/metrics"
	"github.com/nodevault/custodian/internal/oplock"
	"github.com/nodevault/custodian/internal/quote"
	"github.com/nodevault/custodian/internal/storage"
)

// FrameKind names one point in the pipeline's lazy output stream.
type FrameKind string

const (
	FrameGettingQuote        FrameKind = "gettingQuote"
	FrameQuoteReceived       FrameKind = "quoteReceived"
	FrameBuildingTransaction FrameKind = "buildingTransaction"
	FrameSendingTransaction  FrameKind = "sendingTransaction"

	FrameSuccess             FrameKind = "success"
	FrameUnavailable         FrameKind = "unavailable"
	FrameInvalidAmount       FrameKind = "invalidAmount"
	FrameInvalidAsset        FrameKind = "invalidAsset"
	FrameNoWallet            FrameKind = "noWallet"
	FrameInsufficientBalance FrameKind = "insufficientBalance"
	FrameQuoteError          FrameKind = "quoteError"
	FrameBuildError          FrameKind = "buildError"
	FrameSendError           FrameKind = "sendError"
	FrameRPCError            FrameKind = "rpcError"
)

var terminalKinds = map[FrameKind]bool{
	FrameSuccess: true, FrameUnavailable: true, FrameInvalidAmount: true,
	FrameInvalidAsset: true, FrameNoWallet: true, FrameInsufficientBalance: true,
	FrameQuoteError: true, FrameBuildError: true, FrameSendError: true, FrameRPCError: true,
}

// Frame is one element of the pipeline's output stream. Fields carries
// display-oriented data only — never secrets.
type Frame struct {
	Kind   FrameKind
	Fields map[string]interface{}
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool { return terminalKinds[f.Kind] }

func frame(kind FrameKind, fields map[string]interface{}) Frame {
	return Frame{Kind: kind, Fields: fields}
}

// SignerResolver resolves the signing account for principalID: the dev-mode
// path returns a process-bound plaintext key, the production path decrypts
// the principal's stored secret inside the call.
type SignerResolver func(ctx context.Context, principalID int64) (signer chain.TxSigner, address string, err error)

// AssetResolver maps a display asset code to its mint/script-hash address
// and reports whether the asset is supported.
type AssetResolver func(asset string) (mint string, ok bool)

// Config wires the pipeline's dependencies.
type Config struct {
	QuoteMint       string // the fixed quote-asset mint swaps are denominated in
	ResolveSigner   SignerResolver
	ResolveAsset    AssetResolver
	Balances        *balance.Repository
	QuoteClient     *quote.Client
	Submitter       *chain.Submitter
	Locks           *oplock.Locker
	Transactions    storage.TransactionStore
	DeadLetters     storage.DeadLetterStore
	ConfirmTimeout  time.Duration
	DynamicSlippage bool
	PriorityFeeCeil int64
	Logger          *logging.Logger
}

// Executor runs the pipeline for one swap request at a time per
// principal, serialized via an OperationLock.
type Executor struct {
	cfg Config
}

// New builds an Executor.
func New(cfg Config) *Executor {
	return &Executor{cfg: cfg}
}

// Execute runs the pipeline for principalID buying asset with amountQuote
// units of the quote asset, returning a channel of frames terminated by
// exactly one terminal frame. The channel is closed after the terminal
// frame is sent.
func (e *Executor) Execute(ctx context.Context, principalID int64, amountQuote string, asset string) <-chan Frame {
	raw := make(chan Frame, 8)
	out := make(chan Frame, 8)
	go func() {
		defer close(raw)
		e.run(ctx, principalID, amountQuote, asset, raw)
	}()
	go func() {
		defer close(out)
		start := time.Now()
		for f := range raw {
			if terminalKinds[f.Kind] {
				metrics.RecordSwapOutcome(string(f.Kind), time.Since(start))
			}
			out <- f
		}
	}()
	return out
}

func (e *Executor) run(ctx context.Context, principalID int64, amountQuote string, asset string, out chan<- Frame) {
	amount, err := decimal.NewFromString(amountQuote)
	if err != nil || amount.LessThan(decimal.NewFromFloat(0.01)) {
		out <- frame(FrameInvalidAmount, map[string]interface{}{"reason": "amount must be at least 0.01 of the quote asset"})
		return
	}

	outputMint, ok := e.cfg.ResolveAsset(asset)
	if !ok {
		out <- frame(FrameInvalidAsset, map[string]interface{}{"asset": asset})
		return
	}

	lockKey := fmt.Sprintf("swap:%d", principalID)
	lockOwner := fmt.Sprintf("swap-%d-%d", principalID, time.Now().UnixNano())
	if !e.cfg.Locks.Acquire(lockKey, lockOwner, 2*time.Minute, time.Now()) {
		out <- frame(FrameUnavailable, map[string]interface{}{"reason": "another swap is already in progress for this account"})
		return
	}
	defer e.cfg.Locks.Release(lockKey, lockOwner)

	signer, address, err := e.cfg.ResolveSigner(ctx, principalID)
	if err != nil || address == "" {
		out <- frame(FrameNoWallet, nil)
		return
	}

	snap, err := e.cfg.Balances.GetBalances(ctx, address)
	if err != nil {
		out <- frame(FrameRPCError, map[string]interface{}{"stage": "balance"})
		return
	}
	available := snap.Native
	if tracked, ok := snap.PlusMap[e.cfg.QuoteMint]; ok {
		available = tracked
	}
	availDec, _ := decimal.NewFromString(available)
	if availDec.LessThan(amount) {
		out <- frame(FrameInsufficientBalance, map[string]interface{}{"required": amount.String(), "available": availDec.String()})
		return
	}

	out <- frame(FrameGettingQuote, map[string]interface{}{"asset": asset, "amount": amount.String()})
	q, err := e.cfg.QuoteClient.GetQuote(ctx, quote.QuoteParams{
		InputMint: e.cfg.QuoteMint, OutputMint: outputMint, Amount: amount, SlippageBps: 100,
	})
	if err != nil {
		out <- frame(FrameQuoteError, map[string]interface{}{"error": err.Error()})
		return
	}
	out <- frame(FrameQuoteReceived, map[string]interface{}{"outputAmount": q.OutputAmount.String(), "priceImpactPct": q.PriceImpactPct.String()})

	out <- frame(FrameBuildingTransaction, nil)
	built, err := e.cfg.QuoteClient.GetSwapTransaction(ctx, quote.BuildParams{
		OpaqueRaw: q.OpaqueRaw, UserPublicAddress: address,
		DynamicSlippage: e.cfg.DynamicSlippage, PriorityFeeCeil: e.cfg.PriorityFeeCeil,
	})
	if err != nil {
		out <- frame(FrameBuildError, map[string]interface{}{"error": err.Error()})
		return
	}

	signedTx, err := signTransaction(ctx, signer, built.Blueprint)
	if err != nil {
		out <- frame(FrameSendError, map[string]interface{}{"error": "signing failed"})
		return
	}

	out <- frame(FrameSendingTransaction, nil)
	result, err := e.cfg.Submitter.Submit(ctx, signedTx, e.cfg.ConfirmTimeout)
	if err != nil {
		out <- frame(FrameSendError, map[string]interface{}{"error": err.Error()})
		return
	}

	e.cfg.Balances.Invalidate(address)

	tx := transaction.Transaction{
		PrincipalID: principalID,
		Signature:   result.Signature,
		Asset:       asset,
		AmountQuote: amount.String(),
		AmountAsset: q.OutputAmount.String(),
		CreatedAt:   time.Now(),
	}
	if persistErr := e.cfg.Transactions.CreateTransaction(ctx, tx); persistErr != nil {
		e.cfg.Logger.WithFields(map[string]interface{}{
			"principal_id": principalID, "signature": result.Signature, "error": persistErr,
		}).Warn("transaction persistence failed after successful submission, recording dead letter")
		_ = e.cfg.DeadLetters.CreateDeadLetter(ctx, deadletter.Transaction{
			PrincipalID: principalID, Signature: result.Signature, Asset: asset,
			AmountQuote: amount.String(), AmountAsset: q.OutputAmount.String(),
			PersistError: persistErr.Error(), CreatedAt: time.Now(),
		})
	}

	out <- frame(FrameSuccess, map[string]interface{}{
		"signature": result.Signature, "confirmed": result.Confirmed, "outputAmount": q.OutputAmount.String(),
	})
}

// signTransaction signs the aggregator's opaque transaction blueprint with
// the principal's resolved signer and returns the signed payload the
// submitter hands to sendrawtransaction.
func signTransaction(ctx context.Context, signer chain.TxSigner, blueprint []byte) ([]byte, error) {
	if len(blueprint) == 0 {
		return nil, apperrors.SendError(fmt.Errorf("empty transaction blueprint"))
	}
	return signer.Sign(ctx, blueprint)
}
