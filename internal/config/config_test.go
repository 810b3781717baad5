package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REPLAY_ADDR", "")
	t.Setenv("PORT", "9090")
	cfg := Load()
	if cfg.Addr != ":9090" {
		t.Fatalf("expected PORT fallback, got %q", cfg.Addr)
	}
	if cfg.Payment.Price != "20000" || cfg.Payment.Network != "eip155:30732" || cfg.Payment.MaxTimeoutSeconds != 600 {
		t.Fatalf("unexpected payment defaults %+v", cfg.Payment)
	}
	if cfg.Settlement.Mode != "local" || cfg.Settlement.Delay != time.Second {
		t.Fatalf("unexpected settlement defaults %+v", cfg.Settlement)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if id, _ := cfg.Payment.ChainID(); id != 30732 {
		t.Fatalf("unexpected chain id %d", id)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REPLAY_ADDR", "127.0.0.1:7000")
	t.Setenv("REPLAY_PRICE", "5000")
	t.Setenv("REPLAY_SETTLEMENT_DELAY", "250ms")
	t.Setenv("REPLAY_RL_REPLY_PER_MIN", "not-a-number")
	cfg := Load()
	if cfg.Addr != "127.0.0.1:7000" || cfg.Payment.Price != "5000" || cfg.Settlement.Delay != 250*time.Millisecond {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
	if cfg.RateLimits.ReplyPerMinute != 30 {
		t.Fatalf("bad int should fall back to default, got %d", cfg.RateLimits.ReplyPerMinute)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"store", func(c *Config) { c.StoreDriver = "postgres" }, "store driver"},
		{"settlement", func(c *Config) { c.Settlement.Mode = "chain" }, "settlement mode"},
		{"facilitator url", func(c *Config) { c.Settlement.Mode = "remote" }, "FACILITATOR_URL"},
		{"network", func(c *Config) { c.Payment.Network = "solana:mainnet" }, "eip155"},
		{"price", func(c *Config) { c.Payment.Price = "0.02" }, "price"},
		{"pay-to", func(c *Config) { c.Payment.PayTo = "0x12" }, "pay-to"},
		{"asset", func(c *Config) { c.Payment.Asset = "usdc" }, "asset"},
		{"timeout", func(c *Config) { c.Payment.MaxTimeoutSeconds = 0 }, "timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Load()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
