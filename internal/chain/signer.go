// Package chain implements the ledger-facing primitives:
// signer resolution from a decrypted private key, built on
// github.com/nspcc-dev/neo-go, and a batch JSON-RPC client with selective
// retry, built on net/http and github.com/cenkalti/backoff/v4.
package chain

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/nspcc-dev/neo-go/pkg/config/netmode"
	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/wallet"
)

// GasNativeScriptHash is the well-known NEO N3 GAS native contract hash,
// used as the quote-asset mint for aggregator quotes: swaps are always
// denominated in GAS even though balance lookups treat it as the implicit
// native entry rather than a tracked asset hash.
const GasNativeScriptHash = "0xd2a4cff31913016155e38e474a2c06d08be276cf"

// TxSigner abstracts transaction signing so the swap pipeline can depend on
// an interface rather than a concrete wallet.Account.
type TxSigner interface {
	ScriptHash() util.Uint160
	GetVerificationScript() []byte
	SignTx(net netmode.Magic, tx *transaction.Transaction) error
	Sign(ctx context.Context, data []byte) ([]byte, error)
}

// Signer wraps a wallet.Account materialized from a decrypted private key.
// The private key bytes passed to NewSigner are zeroed before return so the
// caller's copy (the plaintext produced by crypto.KeyCustody.Decrypt) is the
// only one that ever existed outside this value.
type Signer struct {
	account *wallet.Account
}

// NewSigner builds a Signer from a raw private key and zeroes the input
// slice before returning, regardless of outcome.
func NewSigner(privateKey []byte) (*Signer, error) {
	defer zero(privateKey)

	key, err := keys.NewPrivateKeyFromBytes(privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}
	return &Signer{account: wallet.NewAccountFromPrivateKey(key)}, nil
}

// NewSignerFromHex is a convenience constructor for the dev-mode path, where
// a plaintext key is bound at process start rather than decrypted per-call.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("chain: decode private key hex: %w", err)
	}
	return NewSigner(raw)
}

func (s *Signer) ScriptHash() util.Uint160 {
	if s == nil || s.account == nil {
		return util.Uint160{}
	}
	return s.account.ScriptHash()
}

// Address returns the base58 NEO N3 address for the account.
func (s *Signer) Address() string {
	if s == nil || s.account == nil {
		return ""
	}
	return s.account.Address
}

func (s *Signer) GetVerificationScript() []byte {
	if s == nil || s.account == nil {
		return nil
	}
	return s.account.GetVerificationScript()
}

func (s *Signer) SignTx(net netmode.Magic, tx *transaction.Transaction) error {
	if s == nil || s.account == nil {
		return fmt.Errorf("chain: signer not configured")
	}
	return s.account.SignTx(net, tx)
}

// Sign produces a raw signature over an arbitrary payload; the swap pipeline
// uses it to sign the aggregator's transaction blueprint.
func (s *Signer) Sign(_ context.Context, data []byte) ([]byte, error) {
	if s == nil || s.account == nil || s.account.PrivateKey() == nil {
		return nil, fmt.Errorf("chain: signer not configured")
	}
	return s.account.PrivateKey().Sign(data), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
