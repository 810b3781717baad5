package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphabot-ai/replay/internal/x402"
)

func testRequirements() x402.PaymentRequirements {
	return x402.Issuer{
		Network:           "eip155:30732",
		PayTo:             "0x0000000000000000000000000000000000000001",
		Asset:             "0x1000000000000000000000000000000000000000",
		AssetName:         "USD Coin",
		AssetVersion:      "2",
		MaxTimeoutSeconds: 600,
	}.Requirements(x402.Terms{Amount: "20000", Resource: "/paid"})
}

// paywall answers 402 until a request carries X-PAYMENT, then calls paid.
type paywall struct {
	requests atomic.Int32
	bodies   []string
	mu       sync.Mutex
	noHeader bool
	paid     func(w http.ResponseWriter, r *http.Request)
}

func (p *paywall) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.requests.Add(1)
	body, _ := io.ReadAll(r.Body)
	p.mu.Lock()
	p.bodies = append(p.bodies, string(body))
	p.mu.Unlock()

	if r.Header.Get(x402.HeaderPayment) == "" {
		if p.noHeader {
			w.WriteHeader(http.StatusPaymentRequired)
			return
		}
		_ = x402.WritePaymentRequired(w, testRequirements(), "")
		return
	}
	if p.paid != nil {
		p.paid(w, r)
		return
	}
	header, _ := x402.EncodeSettlement(x402.SettlementResponse{Success: true, TxID: "0xabc", NetworkID: "eip155:30732"})
	w.Header().Set(x402.HeaderPaymentResponse, header)
	w.WriteHeader(http.StatusCreated)
}

func staticHandler(value string, err error) (ChallengeHandler, *atomic.Int32) {
	var calls atomic.Int32
	return ChallengeHandlerFunc(func(ctx context.Context, req x402.PaymentRequirements) (string, error) {
		calls.Add(1)
		return value, err
	}), &calls
}

func post(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestNonPaymentResponsePassesThrough(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	handler, calls := staticHandler("unused", nil)
	resp, err := (&Transport{Handler: handler}).Do(post(t, srv.URL))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 unchanged, got %d", resp.StatusCode)
	}
	if requests.Load() != 1 || calls.Load() != 0 {
		t.Fatalf("expected 1 request and no signing, got %d and %d", requests.Load(), calls.Load())
	}
}

func TestPaidRetry(t *testing.T) {
	wall := &paywall{}
	srv := httptest.NewServer(wall)
	defer srv.Close()

	var seen x402.PaymentRequirements
	handler := ChallengeHandlerFunc(func(ctx context.Context, req x402.PaymentRequirements) (string, error) {
		seen = req
		return "c2lnbmVk", nil
	})
	resp, err := (&Transport{Handler: handler}).Do(post(t, srv.URL+"/paid"))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if wall.requests.Load() != 2 {
		t.Fatalf("expected exactly 2 requests, got %d", wall.requests.Load())
	}
	if seen.MaxAmountRequired != "20000" {
		t.Fatalf("handler saw unexpected challenge: %+v", seen)
	}
	if wall.bodies[0] != wall.bodies[1] || wall.bodies[1] != `{"content":"hi"}` {
		t.Fatalf("request body not replayed: %q", wall.bodies)
	}
	settlement, ok := SettlementFrom(resp)
	if !ok || settlement.TxID != "0xabc" {
		t.Fatalf("expected settlement header, got %+v", settlement)
	}
}

func TestMissingRequirements(t *testing.T) {
	wall := &paywall{noHeader: true}
	srv := httptest.NewServer(wall)
	defer srv.Close()

	handler, calls := staticHandler("unused", nil)
	_, err := (&Transport{Handler: handler}).Do(post(t, srv.URL))
	var noReq *NoRequirementsError
	if !errors.As(err, &noReq) {
		t.Fatalf("expected NoRequirementsError, got %v", err)
	}
	if wall.requests.Load() != 1 || calls.Load() != 0 {
		t.Fatalf("expected 1 request and no signing")
	}
}

func TestCancellation(t *testing.T) {
	cases := []struct {
		name  string
		value string
		err   error
	}{
		{"sentinel", "", ErrPaymentCancelled},
		{"empty envelope", "", nil},
		{"context cancelled", "", context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wall := &paywall{}
			srv := httptest.NewServer(wall)
			defer srv.Close()

			handler, _ := staticHandler(tc.value, tc.err)
			_, err := (&Transport{Handler: handler}).Do(post(t, srv.URL))
			var cancelled *PaymentCancelledError
			if !errors.As(err, &cancelled) {
				t.Fatalf("expected PaymentCancelledError, got %v", err)
			}
			if !errors.Is(err, ErrPaymentCancelled) {
				t.Fatalf("expected errors.Is ErrPaymentCancelled")
			}
			if cancelled.Requirements.MaxAmountRequired != "20000" {
				t.Fatalf("challenge not carried: %+v", cancelled.Requirements)
			}
			if wall.requests.Load() != 1 {
				t.Fatalf("expected no retry, got %d requests", wall.requests.Load())
			}
		})
	}
}

func TestSigningFailureDoesNotRetry(t *testing.T) {
	wall := &paywall{}
	srv := httptest.NewServer(wall)
	defer srv.Close()

	handler, _ := staticHandler("", errors.New("hardware wallet unplugged"))
	_, err := (&Transport{Handler: handler}).Do(post(t, srv.URL))
	if err == nil || errors.Is(err, ErrPaymentCancelled) {
		t.Fatalf("expected signing error, got %v", err)
	}
	if wall.requests.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", wall.requests.Load())
	}
}

func TestSecondChallengeIsReturned(t *testing.T) {
	wall := &paywall{paid: func(w http.ResponseWriter, r *http.Request) {
		_ = x402.WritePaymentFailed(w, testRequirements(), x402.ReasonExpired, "late")
	}}
	srv := httptest.NewServer(wall)
	defer srv.Close()

	handler, calls := staticHandler("c2lnbmVk", nil)
	resp, err := (&Transport{Handler: handler}).Do(post(t, srv.URL))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("expected second 402 to be returned, got %d", resp.StatusCode)
	}
	if wall.requests.Load() != 2 || calls.Load() != 1 {
		t.Fatalf("expected 2 requests and 1 signing, got %d and %d", wall.requests.Load(), calls.Load())
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "EXPIRED") {
		t.Fatalf("body not readable after peek: %s", body)
	}
}

func TestTransportDrivesTracker(t *testing.T) {
	wall := &paywall{}
	srv := httptest.NewServer(wall)
	defer srv.Close()

	tracker := NewTracker(50 * time.Millisecond)
	defer tracker.Close()
	var mu sync.Mutex
	var states []State
	tracker.Subscribe(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	handler, _ := staticHandler("c2lnbmVk", nil)
	resp, err := (&Transport{Handler: handler, Observer: tracker}).Do(post(t, srv.URL))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for tracker.State() != StateIdle && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateSigning, StateConfirming, StateSuccess, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("unexpected states %v", states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("unexpected states %v", states)
		}
	}
}
