package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/replay/internal/auth"
	"github.com/alphabot-ai/replay/internal/config"
	"github.com/alphabot-ai/replay/internal/facilitator"
	httpapp "github.com/alphabot-ai/replay/internal/http"
	"github.com/alphabot-ai/replay/internal/ledger"
	"github.com/alphabot-ai/replay/internal/rate"
	"github.com/alphabot-ai/replay/internal/store"
	"github.com/alphabot-ai/replay/internal/store/memory"
	"github.com/alphabot-ai/replay/internal/store/sqlite"
	"github.com/alphabot-ai/replay/internal/x402"
)

func runServer(c *cli.Context) error {
	cfg := config.Load()
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()
	if pending, err := led.Pending(); err == nil && len(pending) > 0 {
		logger.Warn("settled payments awaiting reconciliation", "count", len(pending))
	}

	settler, err := newSettler(cfg, led, logger)
	if err != nil {
		return err
	}

	authSvc := auth.NewService(st, cfg.TokenTTL, cfg.ChallengeTTL)
	server := httpapp.NewServer(st, authSvc, rate.NewMemory(), settler, cfg,
		httpapp.WithLogger(logger),
		httpapp.WithJournal(led),
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("replay listening",
			"addr", cfg.Addr,
			"store", cfg.StoreDriver,
			"settlement", cfg.Settlement.Mode,
			"network", cfg.Payment.Network,
			"price", cfg.Payment.Price,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-c.Context.Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreDriver == "memory" {
		return memory.New(), nil
	}
	st, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newSettler(cfg config.Config, led *ledger.Ledger, logger *slog.Logger) (x402.Settler, error) {
	if cfg.Settlement.Mode == "remote" {
		remote, err := facilitator.NewRemote(cfg.Settlement.FacilitatorURL, cfg.Settlement.Timeout)
		if err != nil {
			return nil, fmt.Errorf("facilitator: %w", err)
		}
		return remote, nil
	}
	return facilitator.NewLocal(
		facilitator.WithDelay(cfg.Settlement.Delay),
		facilitator.WithLedger(led),
		facilitator.WithLogger(logger),
	), nil
}

func newLogger(cfg config.Log) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
