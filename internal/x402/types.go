// Package x402 implements the server side of the HTTP 402 payment handshake:
// challenge issuance, the header codec and settlement verification for the
// "exact" scheme over EIP-3009 transfer authorizations.
package x402

const (
	// X402Version is the only envelope version accepted.
	X402Version = 1

	SchemeExact = "exact"

	HeaderPayment         = "X-PAYMENT"
	HeaderRequirements    = "X-PAYMENT-REQUIREMENTS"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// PaymentRequirements is the challenge a client must satisfy. It is derived
// from configuration and the request, never stored.
type PaymentRequirements struct {
	X402Version       int        `json:"x402Version"`
	Scheme            string     `json:"scheme"`
	Network           string     `json:"network"`
	PayTo             string     `json:"payTo"`
	Asset             string     `json:"asset"`
	MaxAmountRequired string     `json:"maxAmountRequired"`
	Resource          string     `json:"resource"`
	Description       string     `json:"description,omitempty"`
	MimeType          string     `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int        `json:"maxTimeoutSeconds"`
	Extra             AssetExtra `json:"extra"`
}

// AssetExtra carries the EIP-712 domain of the asset contract.
type AssetExtra struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// PaymentRequired is the 402 response body.
type PaymentRequired struct {
	Error        string              `json:"error"`
	Reason       Reason              `json:"reason,omitempty"`
	Detail       string              `json:"detail,omitempty"`
	Requirements PaymentRequirements `json:"requirements"`
}

// PaymentPayload is the envelope carried in the X-PAYMENT header.
type PaymentPayload struct {
	X402Version int          `json:"x402Version"`
	Scheme      string       `json:"scheme"`
	Network     string       `json:"network"`
	Payload     ExactPayload `json:"payload"`
}

type ExactPayload struct {
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Authorization holds EIP-3009 transferWithAuthorization parameters. Integer
// fields stay strings on the wire so no precision is lost.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SettlementResponse is carried in the X-PAYMENT-RESPONSE header.
type SettlementResponse struct {
	Success   bool   `json:"success"`
	TxID      string `json:"txId,omitempty"`
	NetworkID string `json:"networkId"`
}

// SettleResponse is what a settlement network reports for one authorization.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}
