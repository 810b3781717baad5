package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodePayment renders the envelope as base64(JSON). Struct field order
// makes the output deterministic.
func EncodePayment(p PaymentPayload) (string, error) {
	return encode(p, "payment")
}

// DecodePayment parses an X-PAYMENT header value. Every failure is a
// *DecodeError.
func DecodePayment(encoded string) (PaymentPayload, error) {
	var p PaymentPayload
	if err := decode(encoded, "payment", &p); err != nil {
		return PaymentPayload{}, err
	}
	a := p.Payload.Authorization
	for _, f := range []struct{ name, value string }{
		{"payload.signature", p.Payload.Signature},
		{"payload.authorization.from", a.From},
		{"payload.authorization.to", a.To},
		{"payload.authorization.value", a.Value},
		{"payload.authorization.validAfter", a.ValidAfter},
		{"payload.authorization.validBefore", a.ValidBefore},
		{"payload.authorization.nonce", a.Nonce},
	} {
		if strings.TrimSpace(f.value) == "" {
			return PaymentPayload{}, &DecodeError{Kind: "payment", Field: f.name}
		}
	}
	return p, nil
}

func EncodeRequirements(r PaymentRequirements) (string, error) {
	return encode(r, "requirements")
}

func DecodeRequirements(encoded string) (PaymentRequirements, error) {
	var r PaymentRequirements
	if err := decode(encoded, "requirements", &r); err != nil {
		return PaymentRequirements{}, err
	}
	for _, f := range []struct{ name, value string }{
		{"scheme", r.Scheme},
		{"network", r.Network},
		{"payTo", r.PayTo},
		{"asset", r.Asset},
		{"maxAmountRequired", r.MaxAmountRequired},
	} {
		if strings.TrimSpace(f.value) == "" {
			return PaymentRequirements{}, &DecodeError{Kind: "requirements", Field: f.name}
		}
	}
	return r, nil
}

func EncodeSettlement(s SettlementResponse) (string, error) {
	return encode(s, "settlement")
}

func DecodeSettlement(encoded string) (SettlementResponse, error) {
	var s SettlementResponse
	if err := decode(encoded, "settlement", &s); err != nil {
		return SettlementResponse{}, err
	}
	return s, nil
}

func encode(v any, kind string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decode(encoded, kind string, dest any) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return &DecodeError{Kind: kind, Err: fmt.Errorf("%w: %v", ErrMalformedBase64, err)}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return &DecodeError{Kind: kind, Err: fmt.Errorf("%w: %v", ErrMalformedJSON, err)}
	}
	return nil
}
