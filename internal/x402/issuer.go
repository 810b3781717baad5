package x402

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Issuer builds payment challenges from server-side defaults.
type Issuer struct {
	Network           string
	PayTo             string
	Asset             string
	AssetName         string
	AssetVersion      string
	MaxTimeoutSeconds int
	Description       string
	MimeType          string
}

// Terms are the per-action inputs of a challenge. Empty fields fall back to
// the issuer defaults.
type Terms struct {
	PayTo    string
	Amount   string
	Resource string
	Asset    string
	Network  string
}

// Requirements is a pure function of the terms and the issuer defaults, so
// the same unpaid request always yields the same challenge.
func (i Issuer) Requirements(t Terms) PaymentRequirements {
	return PaymentRequirements{
		X402Version:       X402Version,
		Scheme:            SchemeExact,
		Network:           orDefault(t.Network, i.Network),
		PayTo:             orDefault(t.PayTo, i.PayTo),
		Asset:             orDefault(t.Asset, i.Asset),
		MaxAmountRequired: t.Amount,
		Resource:          t.Resource,
		Description:       i.Description,
		MimeType:          orDefault(i.MimeType, "application/json"),
		MaxTimeoutSeconds: i.MaxTimeoutSeconds,
		Extra: AssetExtra{
			Name:    i.AssetName,
			Version: i.AssetVersion,
		},
	}
}

// WritePaymentRequired answers an unpaid request with the challenge in both
// the X-PAYMENT-REQUIREMENTS header and the body.
func WritePaymentRequired(w http.ResponseWriter, req PaymentRequirements, message string) error {
	if message == "" {
		message = "payment required"
	}
	return writeChallenge(w, PaymentRequired{Error: message, Requirements: req})
}

// WritePaymentFailed answers a paid request whose envelope was rejected.
func WritePaymentFailed(w http.ResponseWriter, req PaymentRequirements, reason Reason, detail string) error {
	return writeChallenge(w, PaymentRequired{
		Error:        "payment verification failed",
		Reason:       reason,
		Detail:       detail,
		Requirements: req,
	})
}

func writeChallenge(w http.ResponseWriter, body PaymentRequired) error {
	header, err := EncodeRequirements(body.Requirements)
	if err != nil {
		return err
	}
	w.Header().Set(HeaderRequirements, header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("write challenge body: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
