package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr         string
	StoreDriver  string
	DBPath       string
	LedgerPath   string
	TokenTTL     time.Duration
	ChallengeTTL time.Duration
	RateLimits   RateLimits
	Payment      Payment
	Settlement   Settlement
	Log          Log
	Version      string
}

type RateLimits struct {
	PostPerMinute  int
	ReplyPerMinute int
	AuthPerMinute  int
}

// Payment describes the single payment option offered for a reply.
type Payment struct {
	Network           string
	PayTo             string
	Asset             string
	AssetName         string
	AssetVersion      string
	AssetDecimals     int
	Price             string
	MaxTimeoutSeconds int
}

type Settlement struct {
	Mode           string
	FacilitatorURL string
	Delay          time.Duration
	Timeout        time.Duration
}

type Log struct {
	Format string
	Level  string
}

const (
	DefaultNetwork = "eip155:30732"
	DefaultPayTo   = "0x0000000000000000000000000000000000000001"
	DefaultAsset   = "0x1000000000000000000000000000000000000000"
	DefaultPrice   = "20000"
)

func Load() Config {
	addr := envString("REPLAY_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":8080"
		}
	}
	cfg := Config{
		Addr:         addr,
		StoreDriver:  envString("REPLAY_STORE", "sqlite"),
		DBPath:       envString("REPLAY_DB", "replay.db"),
		LedgerPath:   envString("REPLAY_LEDGER", "replay-ledger.db"),
		TokenTTL:     envDuration("REPLAY_TOKEN_TTL", 24*time.Hour),
		ChallengeTTL: envDuration("REPLAY_CHALLENGE_TTL", 5*time.Minute),
		RateLimits: RateLimits{
			PostPerMinute:  envInt("REPLAY_RL_POST_PER_MIN", 10),
			ReplyPerMinute: envInt("REPLAY_RL_REPLY_PER_MIN", 30),
			AuthPerMinute:  envInt("REPLAY_RL_AUTH_PER_MIN", 60),
		},
		Payment: Payment{
			Network:           envString("REPLAY_NETWORK", DefaultNetwork),
			PayTo:             envString("REPLAY_PAY_TO", DefaultPayTo),
			Asset:             envString("REPLAY_ASSET", DefaultAsset),
			AssetName:         envString("REPLAY_ASSET_NAME", "USD Coin"),
			AssetVersion:      envString("REPLAY_ASSET_VERSION", "2"),
			AssetDecimals:     envInt("REPLAY_ASSET_DECIMALS", 6),
			Price:             envString("REPLAY_PRICE", DefaultPrice),
			MaxTimeoutSeconds: envInt("REPLAY_MAX_TIMEOUT_SECONDS", 600),
		},
		Settlement: Settlement{
			Mode:           envString("REPLAY_SETTLEMENT", "local"),
			FacilitatorURL: envString("REPLAY_FACILITATOR_URL", ""),
			Delay:          envDuration("REPLAY_SETTLEMENT_DELAY", time.Second),
			Timeout:        envDuration("REPLAY_FACILITATOR_TIMEOUT", 30*time.Second),
		},
		Log: Log{
			Format: envString("REPLAY_LOG_FORMAT", "text"),
			Level:  envString("REPLAY_LOG_LEVEL", "info"),
		},
		Version: envString("REPLAY_VERSION", "dev"),
	}

	return cfg
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}
	switch c.Settlement.Mode {
	case "local":
	case "remote":
		if c.Settlement.FacilitatorURL == "" {
			errs = append(errs, errors.New("remote settlement needs REPLAY_FACILITATOR_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown settlement mode %q", c.Settlement.Mode))
	}
	if _, err := c.Payment.ChainID(); err != nil {
		errs = append(errs, err)
	}
	if n, ok := new(big.Int).SetString(c.Payment.Price, 10); !ok || n.Sign() <= 0 {
		errs = append(errs, fmt.Errorf("price %q must be a positive integer", c.Payment.Price))
	}
	if !isAddress(c.Payment.PayTo) {
		errs = append(errs, fmt.Errorf("pay-to %q is not an address", c.Payment.PayTo))
	}
	if !isAddress(c.Payment.Asset) {
		errs = append(errs, fmt.Errorf("asset %q is not an address", c.Payment.Asset))
	}
	if c.Payment.MaxTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("max timeout must be positive"))
	}
	return errors.Join(errs...)
}

// ChainID is the numeric reference of an eip155 network.
func (p Payment) ChainID() (int64, error) {
	ref, ok := strings.CutPrefix(p.Network, "eip155:")
	if !ok {
		return 0, fmt.Errorf("network %q is not an eip155 chain", p.Network)
	}
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("network %q has an invalid chain id", p.Network)
	}
	return id, nil
}

func isAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, r := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
