package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/replay/internal/x402"
)

func TestRemoteSettle(t *testing.T) {
	var got settleRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/settle" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"transaction":"0xbeef","network":"eip155:30732","payer":"0xaa"}`))
	}))
	defer srv.Close()

	remote, err := NewRemote(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("new remote: %v", err)
	}
	req := requirements()
	payment := x402.PaymentPayload{X402Version: 1, Scheme: x402.SchemeExact, Network: req.Network,
		Payload: x402.ExactPayload{Signature: "0x01", Authorization: x402.Authorization{From: "0xaa", Nonce: "0x02"}}}

	resp, err := remote.Settle(context.Background(), payment, req)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !resp.Success || resp.Transaction != "0xbeef" || resp.Payer != "0xaa" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.X402Version != 1 || got.PaymentPayload.Payload.Authorization.Nonce != "0x02" || got.PaymentRequirements.MaxAmountRequired != "20000" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestRemoteErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "facilitator down", http.StatusBadGateway)
		}))
		defer srv.Close()

		remote, _ := NewRemote(srv.URL, time.Second)
		_, err := remote.Settle(context.Background(), x402.PaymentPayload{}, requirements())
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Fatalf("expected status error, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
		}))
		defer srv.Close()

		remote, _ := NewRemote(srv.URL, 50*time.Millisecond)
		if _, err := remote.Settle(context.Background(), x402.PaymentPayload{}, requirements()); err == nil {
			t.Fatalf("expected timeout error")
		}
	})

	t.Run("missing url", func(t *testing.T) {
		if _, err := NewRemote("  ", time.Second); err == nil {
			t.Fatalf("expected error")
		}
	})
}
