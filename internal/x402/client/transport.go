// Package client drives the payer side of the 402 handshake: one unpaid
// attempt, one signing callback, at most one paid retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alphabot-ai/replay/internal/x402"
)

// ErrPaymentCancelled is returned by a ChallengeHandler that declines to pay.
var ErrPaymentCancelled = errors.New("x402: payment cancelled")

var errMissingRequirements = errors.New("missing " + x402.HeaderRequirements + " header")

// NoRequirementsError means a 402 arrived without a usable challenge header.
type NoRequirementsError struct {
	StatusCode int
	Err        error
}

func (e *NoRequirementsError) Error() string {
	if e.Err == nil {
		return "x402: payment required but no requirements were sent"
	}
	return fmt.Sprintf("x402: payment required but requirements are unusable: %v", e.Err)
}

func (e *NoRequirementsError) Unwrap() error { return e.Err }

// PaymentCancelledError carries the challenge the caller declined.
type PaymentCancelledError struct {
	Requirements x402.PaymentRequirements
	Err          error
}

func (e *PaymentCancelledError) Error() string {
	return fmt.Sprintf("x402: payment of %s to %s cancelled", e.Requirements.MaxAmountRequired, e.Requirements.PayTo)
}

func (e *PaymentCancelledError) Unwrap() error { return ErrPaymentCancelled }

// ChallengeHandler answers a challenge with an encoded X-PAYMENT value.
// Returning ErrPaymentCancelled, an empty string, or a context error means
// the caller declined.
type ChallengeHandler interface {
	HandleChallenge(ctx context.Context, req x402.PaymentRequirements) (string, error)
}

type ChallengeHandlerFunc func(ctx context.Context, req x402.PaymentRequirements) (string, error)

func (f ChallengeHandlerFunc) HandleChallenge(ctx context.Context, req x402.PaymentRequirements) (string, error) {
	return f(ctx, req)
}

// Signer is the signing capability behind a handler: a local key, a remote
// signer or a test stub.
type Signer interface {
	Sign(ctx context.Context, req x402.PaymentRequirements) (x402.PaymentPayload, error)
}

// SignWith adapts a Signer into a ChallengeHandler.
func SignWith(s Signer) ChallengeHandler {
	return ChallengeHandlerFunc(func(ctx context.Context, req x402.PaymentRequirements) (string, error) {
		payload, err := s.Sign(ctx, req)
		if err != nil {
			return "", err
		}
		return x402.EncodePayment(payload)
	})
}

// Observer receives the progress of one paid request.
type Observer interface {
	PaymentStarted()
	PaymentSigned(req x402.PaymentRequirements)
	PaymentCompleted(statusCode int, detail string)
	PaymentFailed(err error)
}

// Transport performs paid requests. It also satisfies http.RoundTripper so it
// can back an http.Client.
type Transport struct {
	Base     http.RoundTripper
	Handler  ChallengeHandler
	Observer Observer
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.Do(req)
}

// Do sends req, and on a 402 asks the handler for a payment and retries once.
// The retried response is returned as is, whatever its status.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	obs := t.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	obs.PaymentStarted()

	getBody, err := replayableBody(req)
	if err != nil {
		obs.PaymentFailed(err)
		return nil, err
	}

	first, err := t.send(req, getBody, "")
	if err != nil {
		obs.PaymentFailed(err)
		return nil, err
	}
	if first.StatusCode != http.StatusPaymentRequired {
		obs.PaymentCompleted(first.StatusCode, "")
		return first, nil
	}

	requirements, err := requirementsFrom(first)
	drain(first)
	if err != nil {
		err = &NoRequirementsError{StatusCode: first.StatusCode, Err: err}
		obs.PaymentFailed(err)
		return nil, err
	}

	if t.Handler == nil {
		err := &PaymentCancelledError{Requirements: requirements}
		obs.PaymentFailed(err)
		return nil, err
	}
	header, err := t.Handler.HandleChallenge(req.Context(), requirements)
	if isCancellation(err) || (err == nil && strings.TrimSpace(header) == "") {
		cancelled := &PaymentCancelledError{Requirements: requirements, Err: err}
		obs.PaymentFailed(cancelled)
		return nil, cancelled
	}
	if err != nil {
		err = fmt.Errorf("x402: sign payment: %w", err)
		obs.PaymentFailed(err)
		return nil, err
	}
	obs.PaymentSigned(requirements)

	second, err := t.send(req, getBody, header)
	if err != nil {
		obs.PaymentFailed(err)
		return nil, err
	}
	detail := ""
	if second.StatusCode < 200 || second.StatusCode > 299 {
		detail = peekErrorDetail(second)
	}
	obs.PaymentCompleted(second.StatusCode, detail)
	return second, nil
}

func (t *Transport) send(req *http.Request, getBody func() (io.ReadCloser, error), payment string) (*http.Response, error) {
	attempt := req.Clone(req.Context())
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			return nil, err
		}
		attempt.Body = body
		attempt.GetBody = getBody
	}
	attempt.Header.Del(x402.HeaderPayment)
	if payment != "" {
		attempt.Header.Set(x402.HeaderPayment, payment)
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(attempt)
}

// SettlementFrom decodes the X-PAYMENT-RESPONSE header of a paid response.
func SettlementFrom(resp *http.Response) (x402.SettlementResponse, bool) {
	header := resp.Header.Get(x402.HeaderPaymentResponse)
	if header == "" {
		return x402.SettlementResponse{}, false
	}
	s, err := x402.DecodeSettlement(header)
	if err != nil {
		return x402.SettlementResponse{}, false
	}
	return s, true
}

func requirementsFrom(resp *http.Response) (x402.PaymentRequirements, error) {
	header := resp.Header.Get(x402.HeaderRequirements)
	if header == "" {
		return x402.PaymentRequirements{}, errMissingRequirements
	}
	return x402.DecodeRequirements(header)
}

func replayableBody(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("x402: buffer request body: %w", err)
	}
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrPaymentCancelled) || errors.Is(err, context.Canceled)
}

// peekErrorDetail reads a JSON error body and puts it back for the caller.
func peekErrorDetail(resp *http.Response) string {
	if resp.Body == nil {
		return http.StatusText(resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return http.StatusText(resp.StatusCode)
	}
	var body struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
		Code   string `json:"code"`
	}
	if json.Unmarshal(data, &body) != nil || body.Error == "" {
		return http.StatusText(resp.StatusCode)
	}
	switch {
	case body.Reason != "":
		return body.Reason + ": " + body.Error
	case body.Code != "":
		return body.Code + ": " + body.Error
	}
	return body.Error
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

type nopObserver struct{}

func (nopObserver) PaymentStarted()                                {}
func (nopObserver) PaymentSigned(x402.PaymentRequirements)         {}
func (nopObserver) PaymentCompleted(statusCode int, detail string) {}
func (nopObserver) PaymentFailed(error)                            {}
