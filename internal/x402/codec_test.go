package x402

import (
	"encoding/base64"
	"errors"
	"reflect"
	"testing"
)

func samplePayment() PaymentPayload {
	return PaymentPayload{
		X402Version: X402Version,
		Scheme:      SchemeExact,
		Network:     "eip155:30732",
		Payload: ExactPayload{
			Signature: "0x" + repeat("ab", 65),
			Authorization: Authorization{
				From:        "0x00000000000000000000000000000000000000aa",
				To:          "0x0000000000000000000000000000000000000001",
				Value:       "20000",
				ValidAfter:  "1700000000",
				ValidBefore: "1700000600",
				Nonce:       "0x" + repeat("01", 32),
			},
		},
	}
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func TestPaymentRoundTrip(t *testing.T) {
	p := samplePayment()
	encoded, err := EncodePayment(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, p) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, p)
	}
	again, err := EncodePayment(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if again != encoded {
		t.Fatalf("encoding is not deterministic")
	}
}

func TestPaymentPreservesLargeIntegers(t *testing.T) {
	p := samplePayment()
	p.Payload.Authorization.Value = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	encoded, _ := EncodePayment(p)
	decoded, err := DecodePayment(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Payload.Authorization.Value != p.Payload.Authorization.Value {
		t.Fatalf("value changed: %s", decoded.Payload.Authorization.Value)
	}
}

func TestDecodePaymentErrors(t *testing.T) {
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }
	cases := []struct {
		name  string
		input string
		want  error
		field string
	}{
		{"empty", "", ErrMalformedJSON, ""},
		{"bad base64", "%%%not-base64", ErrMalformedBase64, ""},
		{"bad json", b64("{not json"), ErrMalformedJSON, ""},
		{"numeric value", b64(`{"x402Version":1,"payload":{"signature":"0x01","authorization":{"value":20000}}}`), ErrMalformedJSON, ""},
		{"missing signature", b64(`{"x402Version":1,"payload":{"authorization":{"from":"a","to":"b","value":"1","validAfter":"1","validBefore":"2","nonce":"n"}}}`), ErrMissingField, "payload.signature"},
		{"missing nonce", b64(`{"x402Version":1,"payload":{"signature":"0x01","authorization":{"from":"a","to":"b","value":"1","validAfter":"1","validBefore":"2"}}}`), ErrMissingField, "payload.authorization.nonce"},
		{"missing authorization", b64(`{"x402Version":1,"payload":{"signature":"0x01"}}`), ErrMissingField, "payload.authorization.from"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePayment(tc.input)
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %T (%v)", err, err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if decErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, decErr.Field)
			}
		})
	}
}

func TestRequirementsAndSettlementRoundTrip(t *testing.T) {
	req := Issuer{
		Network:           "eip155:30732",
		PayTo:             "0x0000000000000000000000000000000000000001",
		Asset:             "0x1000000000000000000000000000000000000000",
		AssetName:         "USD Coin",
		AssetVersion:      "2",
		MaxTimeoutSeconds: 600,
	}.Requirements(Terms{Amount: "20000", Resource: "/api/replies"})

	encoded, err := EncodeRequirements(req)
	if err != nil {
		t.Fatalf("encode requirements: %v", err)
	}
	decoded, err := DecodeRequirements(encoded)
	if err != nil {
		t.Fatalf("decode requirements: %v", err)
	}
	if !reflect.DeepEqual(decoded, req) {
		t.Fatalf("requirements mismatch: %+v", decoded)
	}

	if _, err := DecodeRequirements(base64.StdEncoding.EncodeToString([]byte(`{"scheme":"exact"}`))); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected missing field error, got %v", err)
	}

	s := SettlementResponse{Success: true, TxID: "0xabc", NetworkID: "eip155:30732"}
	encodedSettlement, err := EncodeSettlement(s)
	if err != nil {
		t.Fatalf("encode settlement: %v", err)
	}
	gotSettlement, err := DecodeSettlement(encodedSettlement)
	if err != nil {
		t.Fatalf("decode settlement: %v", err)
	}
	if gotSettlement != s {
		t.Fatalf("settlement mismatch: %+v", gotSettlement)
	}
}
