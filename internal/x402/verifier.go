package x402

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Settler moves value for a verified authorization. Implementations are
// expected to be idempotent on the authorization nonce.
type Settler interface {
	Settle(ctx context.Context, payment PaymentPayload, requirements PaymentRequirements) (SettleResponse, error)
}

// Outcome is the result of one verification. Exactly one of TxID and Reason
// is set.
type Outcome struct {
	Success bool
	TxID    string
	Network string
	Payer   string
	Amount  string
	Reason  Reason
	Detail  string
	Payment PaymentPayload
}

// SettlementHeader is the X-PAYMENT-RESPONSE value for a successful outcome.
func (o Outcome) SettlementHeader() SettlementResponse {
	return SettlementResponse{Success: o.Success, TxID: o.TxID, NetworkID: o.Network}
}

var decimalPattern = regexp.MustCompile(`^[0-9]+$`)

type Verifier struct {
	settler Settler
	now     func() time.Time
	logger  *slog.Logger
}

type VerifierOption func(*Verifier)

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

func NewVerifier(settler Settler, opts ...VerifierOption) *Verifier {
	v := &Verifier{settler: settler, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the gates in order: decode, structure, amount, time bounds,
// settlement. The settler is only reached when every earlier gate passes,
// and it is never retried.
func (v *Verifier) Verify(ctx context.Context, header string, req PaymentRequirements) Outcome {
	payment, err := DecodePayment(header)
	if err != nil {
		return failure(ReasonInvalidPayload, err.Error())
	}
	out := Outcome{
		Network: payment.Network,
		Payer:   payment.Payload.Authorization.From,
		Amount:  payment.Payload.Authorization.Value,
		Payment: payment,
	}

	terms, err := checkStructure(payment, req)
	if err != nil {
		return out.fail(ReasonInvalidPayload, err.Error())
	}

	required, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return out.fail(ReasonInvalidPayload, "challenge amount is not an integer")
	}
	if terms.value.Cmp(required) < 0 {
		return out.fail(ReasonInsufficientAmount, fmt.Sprintf("value %s below required %s", terms.value, required))
	}

	now := big.NewInt(v.now().Unix())
	if now.Cmp(terms.validAfter) < 0 {
		return out.fail(ReasonNotYetValid, fmt.Sprintf("authorization valid after %s", terms.validAfter))
	}
	if now.Cmp(terms.validBefore) > 0 {
		return out.fail(ReasonExpired, fmt.Sprintf("authorization expired at %s", terms.validBefore))
	}
	if req.MaxTimeoutSeconds > 0 {
		window := new(big.Int).Sub(terms.validBefore, terms.validAfter)
		if window.Cmp(big.NewInt(int64(req.MaxTimeoutSeconds))) > 0 {
			return out.fail(ReasonInvalidPayload, fmt.Sprintf("authorization window %ss exceeds %ds", window, req.MaxTimeoutSeconds))
		}
	}

	resp, err := v.settle(ctx, payment, req)
	if err != nil {
		v.logger.Warn("settlement failed", "payer", out.Payer, "nonce", payment.Payload.Authorization.Nonce, "error", err)
		return out.fail(ReasonSettlementFailed, err.Error())
	}
	if !resp.Success {
		v.logger.Warn("settlement rejected", "payer", out.Payer, "reason", resp.ErrorReason)
		return out.fail(ReasonSettlementFailed, orDefault(resp.ErrorReason, "rejected by settlement network"))
	}
	if resp.Transaction == "" {
		return out.fail(ReasonSettlementFailed, "settlement returned no transaction id")
	}

	out.Success = true
	out.TxID = resp.Transaction
	if resp.Network != "" {
		out.Network = resp.Network
	}
	if resp.Payer != "" {
		out.Payer = resp.Payer
	}
	v.logger.Info("payment settled", "tx", out.TxID, "payer", out.Payer, "amount", out.Amount, "resource", req.Resource)
	return out
}

// settle bounds the delegate call by the challenge timeout even when the
// settler ignores its context.
func (v *Verifier) settle(ctx context.Context, payment PaymentPayload, req PaymentRequirements) (SettleResponse, error) {
	if v.settler == nil {
		return SettleResponse{}, errors.New("no settlement network configured")
	}
	if req.MaxTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.MaxTimeoutSeconds)*time.Second)
		defer cancel()
	}

	type result struct {
		resp SettleResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := v.settler.Settle(ctx, payment, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return SettleResponse{}, fmt.Errorf("settlement timed out: %w", ctx.Err())
	}
}

type authTerms struct {
	value       *big.Int
	validAfter  *big.Int
	validBefore *big.Int
}

func checkStructure(p PaymentPayload, req PaymentRequirements) (authTerms, error) {
	if p.X402Version != X402Version {
		return authTerms{}, fmt.Errorf("unsupported x402Version %d", p.X402Version)
	}
	if p.Scheme != SchemeExact {
		return authTerms{}, fmt.Errorf("unsupported scheme %q", p.Scheme)
	}
	if p.Network != req.Network {
		return authTerms{}, fmt.Errorf("network %q does not match %q", p.Network, req.Network)
	}

	a := p.Payload.Authorization
	if !common.IsHexAddress(a.From) {
		return authTerms{}, errors.New("authorization.from is not an address")
	}
	if !common.IsHexAddress(a.To) {
		return authTerms{}, errors.New("authorization.to is not an address")
	}
	if common.HexToAddress(a.To) != common.HexToAddress(req.PayTo) {
		return authTerms{}, errors.New("authorization.to does not match payTo")
	}

	var terms authTerms
	var err error
	if terms.value, err = parseUint("value", a.Value); err != nil {
		return authTerms{}, err
	}
	if terms.validAfter, err = parseUint("validAfter", a.ValidAfter); err != nil {
		return authTerms{}, err
	}
	if terms.validBefore, err = parseUint("validBefore", a.ValidBefore); err != nil {
		return authTerms{}, err
	}
	if terms.validAfter.Cmp(terms.validBefore) >= 0 {
		return authTerms{}, errors.New("validAfter must be before validBefore")
	}

	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != 32 {
		return authTerms{}, errors.New("nonce must be 32 hex-encoded bytes")
	}
	sig, err := hexutil.Decode(p.Payload.Signature)
	if err != nil || len(sig) != 65 {
		return authTerms{}, errors.New("signature must be 65 hex-encoded bytes")
	}
	return terms, nil
}

func parseUint(field, s string) (*big.Int, error) {
	if !decimalPattern.MatchString(s) {
		return nil, fmt.Errorf("authorization.%s must be a decimal integer string", field)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("authorization.%s must be a decimal integer string", field)
	}
	return n, nil
}

func failure(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

func (o Outcome) fail(reason Reason, detail string) Outcome {
	o.Success = false
	o.Reason = reason
	o.Detail = detail
	return o
}
