package eip3009

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alphabot-ai/replay/internal/x402"
)

var testDomain = Domain{
	Name:              "USD Coin",
	Version:           "2",
	ChainID:           big.NewInt(30732),
	VerifyingContract: common.HexToAddress("0x1000000000000000000000000000000000000000"),
}

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x0000000000000000000000000000000000000001")

	auth, err := NewAuthorization(from, to, big.NewInt(20000), 600, time.Now())
	if err != nil {
		t.Fatalf("new authorization: %v", err)
	}
	sig, err := Sign(key, testDomain, auth)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 || (sig[64] != 27 && sig[64] != 28) {
		t.Fatalf("unexpected signature shape: len=%d v=%d", len(sig), sig[64])
	}

	got, err := RecoverSigner(testDomain, auth, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != from {
		t.Fatalf("recovered %s, want %s", got.Hex(), from.Hex())
	}

	t.Run("tampered value recovers another address", func(t *testing.T) {
		tampered := auth
		tampered.Value = big.NewInt(1)
		other, err := RecoverSigner(testDomain, tampered, sig)
		if err == nil && other == from {
			t.Fatalf("tampered authorization still recovers the signer")
		}
	})

	t.Run("other chain recovers another address", func(t *testing.T) {
		d := testDomain
		d.ChainID = big.NewInt(1)
		other, err := RecoverSigner(d, auth, sig)
		if err == nil && other == from {
			t.Fatalf("domain separation not applied")
		}
	})
}

func TestWindowMatchesTimeout(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth, err := NewAuthorization(common.Address{}, common.Address{}, big.NewInt(1), 600, now)
	if err != nil {
		t.Fatalf("new authorization: %v", err)
	}
	window := new(big.Int).Sub(auth.ValidBefore, auth.ValidAfter)
	if window.Int64() != 600 {
		t.Fatalf("expected 600s window, got %s", window)
	}
	if auth.ValidAfter.Int64() >= now.Unix() {
		t.Fatalf("authorization should already be active at %d", now.Unix())
	}
}

func TestWireRoundTrip(t *testing.T) {
	auth, err := NewAuthorization(
		common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		big.NewInt(20000), 60, time.Now())
	if err != nil {
		t.Fatalf("new authorization: %v", err)
	}
	back, err := FromWire(auth.Wire())
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if back.From != auth.From || back.To != auth.To || back.Nonce != auth.Nonce ||
		back.Value.Cmp(auth.Value) != 0 || back.ValidAfter.Cmp(auth.ValidAfter) != 0 || back.ValidBefore.Cmp(auth.ValidBefore) != 0 {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, auth)
	}

	if _, err := FromWire(x402.Authorization{From: "nope"}); err == nil {
		t.Fatalf("expected error for invalid wire authorization")
	}
}

func TestChainID(t *testing.T) {
	id, err := ChainID("eip155:30732")
	if err != nil || id.Int64() != 30732 {
		t.Fatalf("unexpected chain id %v (%v)", id, err)
	}
	for _, bad := range []string{"solana:mainnet", "eip155:", "eip155:abc", "eip155:0"} {
		if _, err := ChainID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
