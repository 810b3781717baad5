package client

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alphabot-ai/replay/internal/x402"
	"github.com/alphabot-ai/replay/internal/x402/eip3009"
)

// Wallet signs payments and login challenges with a local secp256k1 key.
type Wallet struct {
	key        *ecdsa.PrivateKey
	address    common.Address
	spendLimit *big.Int
	now        func() time.Time
}

type WalletOption func(*Wallet)

// WithSpendLimit makes the wallet decline any challenge above limit.
func WithSpendLimit(limit *big.Int) WalletOption {
	return func(w *Wallet) { w.spendLimit = limit }
}

func WithWalletClock(now func() time.Time) WalletOption {
	return func(w *Wallet) { w.now = now }
}

// NewWallet loads a hex private key, with or without 0x.
func NewWallet(privateKeyHex string, opts ...WalletOption) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewWalletFromKey(key, opts...), nil
}

func NewWalletFromKey(key *ecdsa.PrivateKey, opts ...WalletOption) *Wallet {
	w := &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey), now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// GenerateWallet creates a wallet with a fresh random key.
func GenerateWallet(opts ...WalletOption) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewWalletFromKey(key, opts...), nil
}

func (w *Wallet) Address() common.Address { return w.address }

// PrivateKeyHex exports the key for local persistence.
func (w *Wallet) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(w.key))
}

// Sign builds and signs an EIP-3009 authorization that satisfies req.
func (w *Wallet) Sign(ctx context.Context, req x402.PaymentRequirements) (x402.PaymentPayload, error) {
	if err := ctx.Err(); err != nil {
		return x402.PaymentPayload{}, err
	}
	if req.Scheme != x402.SchemeExact {
		return x402.PaymentPayload{}, fmt.Errorf("unsupported scheme %q", req.Scheme)
	}
	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		return x402.PaymentPayload{}, fmt.Errorf("invalid amount %q", req.MaxAmountRequired)
	}
	if w.spendLimit != nil && amount.Cmp(w.spendLimit) > 0 {
		return x402.PaymentPayload{}, fmt.Errorf("%w: %s exceeds spend limit %s", ErrPaymentCancelled, amount, w.spendLimit)
	}
	if !common.IsHexAddress(req.PayTo) {
		return x402.PaymentPayload{}, fmt.Errorf("invalid payTo %q", req.PayTo)
	}
	domain, err := eip3009.DomainFor(req)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	timeout := req.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	auth, err := eip3009.NewAuthorization(w.address, common.HexToAddress(req.PayTo), amount, timeout, w.now())
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	sig, err := eip3009.Sign(w.key, domain, auth)
	if err != nil {
		return x402.PaymentPayload{}, err
	}
	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     req.Network,
		Payload: x402.ExactPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth.Wire(),
		},
	}, nil
}

// SignMessage produces an EIP-191 personal_sign signature (v in {27, 28}).
func (w *Wallet) SignMessage(message []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
