package facilitator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alphabot-ai/replay/internal/x402"
)

const DefaultRemoteTimeout = 30 * time.Second

type settleRequest struct {
	X402Version         int                      `json:"x402Version"`
	PaymentPayload      x402.PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements x402.PaymentRequirements `json:"paymentRequirements"`
}

// Remote settles through an x402 facilitator service (POST {base}/settle).
type Remote struct {
	client *resty.Client
}

func NewRemote(baseURL string, timeout time.Duration) (*Remote, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("facilitator url is required")
	}
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Remote{client: client}, nil
}

func (r *Remote) Settle(ctx context.Context, payment x402.PaymentPayload, req x402.PaymentRequirements) (x402.SettleResponse, error) {
	var out x402.SettleResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(settleRequest{
			X402Version:         x402.X402Version,
			PaymentPayload:      payment,
			PaymentRequirements: req,
		}).
		SetResult(&out).
		Post("/settle")
	if err != nil {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle: %w", err)
	}
	if resp.IsError() {
		return x402.SettleResponse{}, fmt.Errorf("facilitator settle: status %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return out, nil
}
