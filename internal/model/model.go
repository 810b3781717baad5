package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID            string    `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	DisplayName   string    `json:"display_name"`
	CreatedAt     time.Time `json:"created_at"`
}

type Post struct {
	ID               string    `json:"id"`
	AuthorID         string    `json:"author_id"`
	Content          string    `json:"content"`
	CreatedAt        time.Time `json:"created_at"`
	ReplyCount       int       `json:"reply_count"`
	TotalTips        string    `json:"total_tips"`
	TotalTipsDisplay string    `json:"total_tips_display,omitempty"`
	Author           *User     `json:"author,omitempty"`
}

// Reply is immutable once stored. PaymentTxHash is unique across all replies.
type Reply struct {
	ID            string    `json:"id"`
	PostID        string    `json:"post_id"`
	AuthorID      string    `json:"author_id"`
	Content       string    `json:"content"`
	PaymentTxHash string    `json:"payment_tx_hash"`
	PaymentAmount string    `json:"payment_amount"`
	CreatedAt     time.Time `json:"created_at"`
	Author        *User     `json:"author,omitempty"`
}

type Challenge struct {
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Address   string    `json:"address"`
	ExpiresAt time.Time `json:"expires_at"`
}

const MaxContentLength = 280

// NormalizeAddress lowercases a wallet address so lookups are case-insensitive.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ShortAddress renders 0x1234...abcd.
func ShortAddress(address string) string {
	address = strings.TrimSpace(address)
	if len(address) <= 10 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}

// FormatAmount converts an atomic-unit integer string into a decimal string
// with the given number of decimals. Invalid input is returned unchanged.
func FormatAmount(atomic string, decimals int32) string {
	d, err := decimal.NewFromString(atomic)
	if err != nil {
		return atomic
	}
	return d.Shift(-decimals).String()
}

// AddAmounts sums atomic-unit integer strings, skipping invalid entries.
func AddAmounts(amounts ...string) string {
	total := decimal.Zero
	for _, a := range amounts {
		d, err := decimal.NewFromString(a)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total.String()
}
