// Package client provides a Go client for the Replay API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/x402"
	x402client "github.com/alphabot-ai/replay/internal/x402/client"
)

// Client is a Replay API client. Replies are paid through Wallet unless
// Payments overrides how challenges are answered.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
	TokenExp   time.Time
	Wallet     *x402client.Wallet
	Tracker    *x402client.Tracker
	Payments   x402client.ChallengeHandler
}

// APIError is a non-success answer from the server.
type APIError struct {
	StatusCode int
	Code       string
	Reason     string
	Message    string
	TxID       string
}

func (e *APIError) Error() string {
	label := e.Code
	if e.Reason != "" {
		label = e.Reason
	}
	if label == "" {
		return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, label, e.Message)
}

// PostDetail is a post with its replies.
type PostDetail struct {
	Post    model.Post    `json:"post"`
	Replies []model.Reply `json:"replies"`
}

// ReplyResult is a stored reply and the settlement that paid for it.
type ReplyResult struct {
	Reply      model.Reply
	Settlement x402.SettlementResponse
}

// New creates a new Replay client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetChallenge requests an authentication challenge from the server.
func (c *Client) GetChallenge(ctx context.Context) (string, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/challenge", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readAPIError(resp)
	}
	var result model.Challenge
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Challenge, nil
}

// Login signs a fresh challenge with the wallet and stores the bearer token.
func (c *Client) Login(ctx context.Context) (model.User, error) {
	if c.Wallet == nil {
		return model.User{}, errors.New("login needs a wallet")
	}
	challenge, err := c.GetChallenge(ctx)
	if err != nil {
		return model.User{}, fmt.Errorf("get challenge: %w", err)
	}
	signature, err := c.Wallet.SignMessage([]byte(challenge))
	if err != nil {
		return model.User{}, fmt.Errorf("sign challenge: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/verify", map[string]string{
		"address":   c.Wallet.Address().Hex(),
		"challenge": challenge,
		"signature": signature,
	})
	if err != nil {
		return model.User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.User{}, readAPIError(resp)
	}
	var result struct {
		AccessToken string     `json:"access_token"`
		ExpiresAt   time.Time  `json:"expires_at"`
		User        model.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.User{}, err
	}
	c.Token = result.AccessToken
	c.TokenExp = result.ExpiresAt
	return result.User, nil
}

// IsAuthenticated returns true if the client has a valid token.
func (c *Client) IsAuthenticated() bool {
	return c.Token != "" && time.Now().Before(c.TokenExp)
}

// Health returns the server's health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListPosts returns the newest posts.
func (c *Client) ListPosts(ctx context.Context, limit, offset int) ([]model.Post, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/posts"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var result struct {
		Posts []model.Post `json:"posts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Posts, nil
}

// GetPost returns a post with its replies.
func (c *Client) GetPost(ctx context.Context, id string) (*PostDetail, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/posts/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var detail PostDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreatePost publishes a free post.
func (c *Client) CreatePost(ctx context.Context, content string) (*model.Post, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/posts", map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, readAPIError(resp)
	}
	var result struct {
		Post model.Post `json:"post"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result.Post, nil
}

// GetReplyByTx finds the reply a settlement paid for.
func (c *Client) GetReplyByTx(ctx context.Context, txID string) (*model.Reply, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/replies/"+url.PathEscape(txID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}
	var reply model.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Reply posts a paid reply. The 402 challenge is answered once through the
// payment handler; a cancelled payment returns an error wrapping
// x402client.ErrPaymentCancelled and nothing is charged.
func (c *Client) Reply(ctx context.Context, postID, content string) (*ReplyResult, error) {
	if c.Tracker != nil && c.Tracker.Busy() {
		return nil, x402client.ErrBusy
	}
	handler := c.Payments
	if handler == nil && c.Wallet != nil {
		handler = x402client.SignWith(c.Wallet)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/replies", map[string]string{
		"post_id": postID,
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	transport := &x402client.Transport{Base: c.HTTPClient.Transport, Handler: handler}
	if c.Tracker != nil {
		transport.Observer = c.Tracker
	}
	paid := &http.Client{Transport: transport, Timeout: c.HTTPClient.Timeout}

	resp, err := paid.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	settlement, _ := x402client.SettlementFrom(resp)
	if resp.StatusCode != http.StatusCreated {
		apiErr := readAPIError(resp)
		if apiErr.TxID == "" {
			apiErr.TxID = settlement.TxID
		}
		return nil, apiErr
	}
	var result struct {
		Reply model.Reply `json:"reply"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &ReplyResult{Reply: result.Reply, Settlement: settlement}, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

// doRequest performs an authenticated HTTP request.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	return c.HTTPClient.Do(req)
}

func readAPIError(resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error  string `json:"error"`
		Code   string `json:"code"`
		Reason string `json:"reason"`
		Detail string `json:"detail"`
		TxID   string `json:"tx_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	apiErr.Code = body.Code
	apiErr.Reason = body.Reason
	apiErr.Message = body.Error
	if body.Detail != "" {
		apiErr.Message += ": " + body.Detail
	}
	apiErr.TxID = body.TxID
	return apiErr
}

// TestHelper provides utilities for creating authenticated clients in tests.
type TestHelper struct {
	BaseURL string
}

// NewTestHelper creates a new test helper for the given base URL.
func NewTestHelper(baseURL string) *TestHelper {
	return &TestHelper{BaseURL: baseURL}
}

// CreateAuthenticatedClient logs in with a freshly generated wallet.
func (h *TestHelper) CreateAuthenticatedClient(ctx context.Context) (*Client, error) {
	wallet, err := x402client.GenerateWallet()
	if err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}
	c := New(h.BaseURL)
	c.Wallet = wallet
	if _, err := c.Login(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
