package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alphabot-ai/replay/internal/x402"
	"github.com/alphabot-ai/replay/internal/x402/eip3009"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// recoveringSettler accepts a payment only when its signature recovers to
// authorization.from.
type recoveringSettler struct{}

func (recoveringSettler) Settle(ctx context.Context, p x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	domain, err := eip3009.DomainFor(req)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	auth, err := eip3009.FromWire(p.Payload.Authorization)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	sig, err := hexutil.Decode(p.Payload.Signature)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	signer, err := eip3009.RecoverSigner(domain, auth, sig)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if signer != auth.From {
		return x402.SettleResponse{Success: false, ErrorReason: "invalid_signature"}, nil
	}
	return x402.SettleResponse{Success: true, Transaction: crypto.Keccak256Hash(sig).Hex(), Network: req.Network, Payer: signer.Hex()}, nil
}

func TestWalletSignsVerifiablePayment(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w, err := NewWallet("0x"+testKey, WithWalletClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	req := testRequirements()

	payload, err := w.Sign(context.Background(), req)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	a := payload.Payload.Authorization
	if a.From != w.Address().Hex() || common.HexToAddress(a.To) != common.HexToAddress(req.PayTo) {
		t.Fatalf("unexpected parties: %+v", a)
	}
	if a.Value != "20000" || a.ValidAfter != "1699999999" || a.ValidBefore != "1700000599" {
		t.Fatalf("unexpected terms: %+v", a)
	}

	header, err := x402.EncodePayment(payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	verifier := x402.NewVerifier(recoveringSettler{},
		x402.WithClock(func() time.Time { return now }),
		x402.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	out := verifier.Verify(context.Background(), header, req)
	if !out.Success {
		t.Fatalf("signed payment rejected: %+v", out)
	}
	if out.Payer != w.Address().Hex() {
		t.Fatalf("unexpected payer %s", out.Payer)
	}
}

func TestWalletNoncesAreUnique(t *testing.T) {
	w, err := GenerateWallet()
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	first, err := w.Sign(context.Background(), testRequirements())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := w.Sign(context.Background(), testRequirements())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if first.Payload.Authorization.Nonce == second.Payload.Authorization.Nonce {
		t.Fatalf("nonce reused")
	}
}

func TestWalletSpendLimit(t *testing.T) {
	w, err := GenerateWallet(WithSpendLimit(big.NewInt(10_000)))
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	_, err = w.Sign(context.Background(), testRequirements())
	if !errors.Is(err, ErrPaymentCancelled) {
		t.Fatalf("expected cancellation above limit, got %v", err)
	}
}

func TestWalletRejectsBadChallenge(t *testing.T) {
	w, _ := GenerateWallet()
	cases := []struct {
		name   string
		mutate func(*x402.PaymentRequirements)
	}{
		{"scheme", func(r *x402.PaymentRequirements) { r.Scheme = "upto" }},
		{"amount", func(r *x402.PaymentRequirements) { r.MaxAmountRequired = "lots" }},
		{"payTo", func(r *x402.PaymentRequirements) { r.PayTo = "nobody" }},
		{"network", func(r *x402.PaymentRequirements) { r.Network = "solana:mainnet" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequirements()
			tc.mutate(&req)
			if _, err := w.Sign(context.Background(), req); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestWalletPersonalSign(t *testing.T) {
	w, err := NewWallet(testKey)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	msg := []byte("replay login 1234")
	sigHex, err := w.SignMessage(msg)
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	sig := hexutil.MustDecode(sigHex)
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("unexpected recovery id %d", sig[64])
	}
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != w.Address() {
		t.Fatalf("recovered wrong address")
	}

	restored, err := NewWallet(w.PrivateKeyHex())
	if err != nil || restored.Address() != w.Address() {
		t.Fatalf("key export round trip failed: %v", err)
	}
}
