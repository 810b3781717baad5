// Package facilitator holds the settlement networks a Verifier can delegate
// to: an in-process simulation and a client for a remote x402 facilitator.
package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alphabot-ai/replay/internal/ledger"
	"github.com/alphabot-ai/replay/internal/x402"
	"github.com/alphabot-ai/replay/internal/x402/eip3009"
)

const (
	ReasonInvalidSignature  = "invalid_exact_evm_payload_signature"
	ReasonAuthorizationUsed = "authorization_already_used"
)

// DefaultDelay approximates block confirmation time.
const DefaultDelay = time.Second

// SettlementLedger remembers executed transfers so a repeated authorization
// resolves to the transfer it already produced.
type SettlementLedger interface {
	RecordSettlement(s ledger.Settlement) (ledger.Settlement, bool, error)
}

// memorySettlements is the SettlementLedger a Local uses when none is
// configured. It forgets everything on restart.
type memorySettlements struct {
	mu   sync.Mutex
	seen map[string]ledger.Settlement
}

func (m *memorySettlements) RecordSettlement(s ledger.Settlement) (ledger.Settlement, bool, error) {
	key := strings.ToLower(s.Payer + ":" + s.Nonce)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.seen[key]; ok {
		return existing, false, nil
	}
	if s.SettledAt.IsZero() {
		s.SettledAt = time.Now().UTC()
	}
	m.seen[key] = s
	return s, true, nil
}

// Local simulates a settlement network. It checks the EIP-712 signature,
// waits for a confirmation delay and derives the transaction hash from the
// signed EIP-712 digest, so the same authorization always settles to the
// same hash however its signature is encoded.
type Local struct {
	ledger SettlementLedger
	delay  time.Duration
	logger *slog.Logger
}

type LocalOption func(*Local)

func WithDelay(d time.Duration) LocalOption {
	return func(l *Local) { l.delay = d }
}

func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) { l.logger = logger }
}

// WithLedger makes settlement idempotent on (payer, nonce) across restarts.
// Without it idempotency only lasts for the life of the process.
func WithLedger(sl SettlementLedger) LocalOption {
	return func(l *Local) { l.ledger = sl }
}

func NewLocal(opts ...LocalOption) *Local {
	l := &Local{delay: DefaultDelay, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	if l.ledger == nil {
		l.ledger = &memorySettlements{seen: make(map[string]ledger.Settlement)}
	}
	return l
}

func (l *Local) Settle(ctx context.Context, payment x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	domain, err := eip3009.DomainFor(req)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	auth, err := eip3009.FromWire(payment.Payload.Authorization)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	sig, err := hexutil.Decode(payment.Payload.Signature)
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("decode signature: %w", err)
	}
	signer, err := eip3009.RecoverSigner(domain, auth, sig)
	if err != nil || signer != auth.From {
		l.logger.Warn("rejected authorization", "from", auth.From.Hex(), "recovered", signer.Hex())
		return x402.SettleResponse{Success: false, ErrorReason: ReasonInvalidSignature, Network: req.Network}, nil
	}

	if l.delay > 0 {
		timer := time.NewTimer(l.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return x402.SettleResponse{}, ctx.Err()
		}
	}

	// The digest covers the domain and every authorization field but not
	// the signature, which has more than one valid encoding.
	digest, err := eip3009.Digest(domain, auth)
	if err != nil {
		return x402.SettleResponse{}, err
	}
	txID := crypto.Keccak256Hash(digest).Hex()
	stored, created, err := l.ledger.RecordSettlement(ledger.Settlement{
		Nonce:   payment.Payload.Authorization.Nonce,
		Payer:   signer.Hex(),
		PayTo:   auth.To.Hex(),
		Amount:  auth.Value.String(),
		Network: req.Network,
		TxID:    txID,
	})
	if err != nil {
		return x402.SettleResponse{}, err
	}
	if !created && !strings.EqualFold(stored.TxID, txID) {
		return x402.SettleResponse{Success: false, ErrorReason: ReasonAuthorizationUsed, Network: req.Network, Payer: signer.Hex()}, nil
	}
	if !created {
		l.logger.Info("authorization already settled", "tx", stored.TxID, "payer", signer.Hex())
	}
	txID = stored.TxID

	return x402.SettleResponse{
		Success:     true,
		Transaction: txID,
		Network:     req.Network,
		Payer:       signer.Hex(),
	}, nil
}
