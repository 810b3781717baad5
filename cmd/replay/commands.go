package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/replay/internal/client"
	"github.com/alphabot-ai/replay/internal/model"
	x402client "github.com/alphabot-ai/replay/internal/x402/client"
)

const defaultURL = "http://localhost:8080"

// CLIConfig holds the CLI client state persisted to disk.
type CLIConfig struct {
	BaseURL    string `json:"base_url"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
	Token      string `json:"token,omitempty"`
	TokenExp   string `json:"token_expires,omitempty"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".replay.json"
	}
	return filepath.Join(home, ".replay", "config.json")
}

func loadCLIConfig(c *cli.Context) (CLIConfig, error) {
	var cfg CLIConfig
	data, err := os.ReadFile(c.String("config"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return CLIConfig{}, err
		}
	} else if err := json.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}, fmt.Errorf("parse %s: %w", c.String("config"), err)
	}
	if url := c.String("url"); url != "" {
		cfg.BaseURL = strings.TrimSuffix(url, "/")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultURL
	}
	return cfg, nil
}

func saveCLIConfig(c *cli.Context, cfg CLIConfig) error {
	path := c.String("config")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return os.WriteFile(path, data, 0600)
}

func loadClient(c *cli.Context, opts ...x402client.WalletOption) (CLIConfig, *client.Client, error) {
	cfg, err := loadCLIConfig(c)
	if err != nil {
		return CLIConfig{}, nil, err
	}
	cl := client.New(cfg.BaseURL)
	if cfg.PrivateKey != "" {
		wallet, err := x402client.NewWallet(cfg.PrivateKey, opts...)
		if err != nil {
			return CLIConfig{}, nil, err
		}
		cl.Wallet = wallet
	}
	cl.Token = cfg.Token
	if cfg.TokenExp != "" {
		cl.TokenExp, _ = time.Parse(time.RFC3339, cfg.TokenExp)
	}
	return cfg, cl, nil
}

// loadAuthenticatedClient logs in again when the stored token has expired.
func loadAuthenticatedClient(c *cli.Context, opts ...x402client.WalletOption) (*client.Client, error) {
	cfg, cl, err := loadClient(c, opts...)
	if err != nil {
		return nil, err
	}
	if cl.IsAuthenticated() {
		return cl, nil
	}
	if cl.Wallet == nil {
		return nil, errors.New("no wallet configured, run 'replay init' first")
	}
	if _, err := cl.Login(c.Context); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	cfg.Token = cl.Token
	cfg.TokenExp = cl.TokenExp.Format(time.RFC3339)
	if err := saveCLIConfig(c, cfg); err != nil {
		return nil, err
	}
	return cl, nil
}

func cmdInit(c *cli.Context) error {
	cfg, err := loadCLIConfig(c)
	if err != nil {
		return err
	}
	if cfg.PrivateKey != "" && !c.Bool("force") {
		return fmt.Errorf("wallet %s already configured, use --force to replace it", cfg.Address)
	}

	var wallet *x402client.Wallet
	if key := c.String("key"); key != "" {
		wallet, err = x402client.NewWallet(key)
	} else {
		wallet, err = x402client.GenerateWallet()
	}
	if err != nil {
		return err
	}

	cfg.Address = wallet.Address().Hex()
	cfg.PrivateKey = wallet.PrivateKeyHex()
	cfg.Token = ""
	cfg.TokenExp = ""
	if err := saveCLIConfig(c, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Wallet %s\n", cfg.Address)
	fmt.Printf("  Config: %s\n", c.String("config"))
	fmt.Printf("  Server: %s\n", cfg.BaseURL)
	fmt.Println("\nNext: replay login")
	return nil
}

func cmdLogin(c *cli.Context) error {
	cfg, cl, err := loadClient(c)
	if err != nil {
		return err
	}
	if cl.Wallet == nil {
		return errors.New("no wallet configured, run 'replay init' first")
	}
	user, err := cl.Login(c.Context)
	if err != nil {
		return err
	}
	cfg.Token = cl.Token
	cfg.TokenExp = cl.TokenExp.Format(time.RFC3339)
	if err := saveCLIConfig(c, cfg); err != nil {
		return fmt.Errorf("save token: %w", err)
	}

	fmt.Printf("✓ Authenticated as %s\n", model.ShortAddress(user.WalletAddress))
	fmt.Printf("  Expires: %s\n", cfg.TokenExp)
	return nil
}

func cmdStatus(c *cli.Context) error {
	cfg, cl, err := loadClient(c)
	if err != nil {
		return err
	}
	fmt.Printf("Server:  %s\n", cfg.BaseURL)
	if cfg.Address == "" {
		fmt.Println("Wallet:  none (run 'replay init')")
	} else {
		fmt.Printf("Wallet:  %s\n", cfg.Address)
	}
	switch {
	case cl.IsAuthenticated():
		fmt.Printf("Token:   valid until %s\n", cl.TokenExp.Format(time.RFC3339))
	case cfg.Token != "":
		fmt.Println("Token:   expired (run 'replay login')")
	default:
		fmt.Println("Token:   none")
	}

	health, err := cl.Health(c.Context)
	if err != nil {
		fmt.Printf("Health:  unreachable (%v)\n", err)
		return nil
	}
	fmt.Printf("Health:  %v\n", health["status"])
	if pending, ok := health["pending_reconciliation"].(float64); ok && pending > 0 {
		fmt.Printf("         %d settled payments awaiting reconciliation\n", int(pending))
	}
	if conf, ok := health["config"].(map[string]any); ok {
		fmt.Printf("Price:   %v per reply on %v\n", conf["price_display"], conf["network"])
	}
	return nil
}

func cmdRead(c *cli.Context) error {
	_, cl, err := loadClient(c)
	if err != nil {
		return err
	}

	if id := c.String("post"); id != "" {
		detail, err := cl.GetPost(c.Context, id)
		if err != nil {
			return err
		}
		printPost(detail.Post)
		if len(detail.Replies) == 0 {
			fmt.Println("  (no replies yet)")
		}
		for _, r := range detail.Replies {
			fmt.Printf("  ↳ %s: %s\n", authorLabel(r.Author, r.AuthorID), r.Content)
			fmt.Printf("    paid %s in %s\n", r.PaymentAmount, model.ShortAddress(r.PaymentTxHash))
		}
		return nil
	}

	posts, err := cl.ListPosts(c.Context, c.Int("limit"), 0)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Println("No posts yet.")
		return nil
	}
	for _, p := range posts {
		printPost(p)
	}
	return nil
}

func printPost(p model.Post) {
	fmt.Printf("[%s] %s\n", p.ID, p.Content)
	fmt.Printf("  by %s · %d replies · %s tipped\n", authorLabel(p.Author, p.AuthorID), p.ReplyCount, orZero(p.TotalTipsDisplay))
}

func authorLabel(u *model.User, fallback string) string {
	if u == nil {
		return fallback
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return model.ShortAddress(u.WalletAddress)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func cmdPost(c *cli.Context) error {
	cl, err := loadAuthenticatedClient(c)
	if err != nil {
		return err
	}
	post, err := cl.CreatePost(c.Context, c.String("text"))
	if err != nil {
		return err
	}
	fmt.Println("✓ Posted")
	fmt.Printf("  ID: %s\n", post.ID)
	return nil
}

func cmdReply(c *cli.Context) error {
	var opts []x402client.WalletOption
	if raw := c.String("max-spend"); raw != "" {
		limit, ok := new(big.Int).SetString(raw, 10)
		if !ok || limit.Sign() < 0 {
			return fmt.Errorf("--max-spend %q is not a non-negative integer", raw)
		}
		opts = append(opts, x402client.WithSpendLimit(limit))
	}
	cl, err := loadAuthenticatedClient(c, opts...)
	if err != nil {
		return err
	}

	cl.Tracker = x402client.NewTracker(x402client.DefaultResetDelay)
	defer cl.Tracker.Close()
	cl.Tracker.Subscribe(func(s x402client.Snapshot) {
		switch s.State {
		case x402client.StateSigning:
			fmt.Println("… signing payment")
		case x402client.StateConfirming:
			fmt.Println("… waiting for settlement")
		case x402client.StateError:
			fmt.Printf("✗ %s\n", s.Reason)
		}
	})

	result, err := cl.Reply(c.Context, c.String("post"), c.String("text"))
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.TxID != "" {
			return fmt.Errorf("%w (payment %s)", err, apiErr.TxID)
		}
		return err
	}
	fmt.Println("✓ Reply posted")
	fmt.Printf("  ID:      %s\n", result.Reply.ID)
	fmt.Printf("  Paid:    %s\n", result.Reply.PaymentAmount)
	fmt.Printf("  Tx:      %s\n", result.Settlement.TxID)
	return nil
}
