package x402

import (
	"errors"
	"fmt"
)

// Reason classifies why a payment was not accepted.
type Reason string

const (
	ReasonInvalidPayload     Reason = "INVALID_PAYLOAD"
	ReasonInsufficientAmount Reason = "INSUFFICIENT_AMOUNT"
	ReasonExpired            Reason = "EXPIRED"
	ReasonNotYetValid        Reason = "NOT_YET_VALID"
	ReasonSettlementFailed   Reason = "SETTLEMENT_FAILED"
)

var (
	ErrMalformedBase64 = errors.New("x402: malformed base64")
	ErrMalformedJSON   = errors.New("x402: malformed json")
	ErrMissingField    = errors.New("x402: missing required field")
)

// DecodeError reports a header value that could not be turned into its
// protocol object. Err is one of the ErrMalformed* or ErrMissingField
// sentinels, possibly wrapping the underlying cause.
type DecodeError struct {
	Kind  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %v: %s", e.Kind, ErrMissingField, e.Field)
	}
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e.Field != "" {
		return ErrMissingField
	}
	return e.Err
}
