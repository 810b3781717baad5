package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/alphabot-ai/replay/internal/config"
	"github.com/alphabot-ai/replay/internal/ledger"
	"github.com/alphabot-ai/replay/internal/store"
)

// cmdReconcile works on the server's files directly, so it runs while the
// server is stopped.
func cmdReconcile(c *cli.Context) error {
	cfg := config.Load()
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return fmt.Errorf("%w (is the server still running?)", err)
	}
	defer led.Close()

	if tx := c.String("resolve"); tx != "" {
		if err := led.Resolve(tx); err != nil {
			return err
		}
		fmt.Printf("✓ Resolved %s\n", tx)
		return nil
	}

	pending, err := led.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Nothing to reconcile.")
		return nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	open := 0
	for _, e := range pending {
		// A retried request may have stored the reply after the failure was journaled.
		reply, err := st.GetReplyByTxHash(c.Context, e.TxID)
		switch {
		case err == nil:
			if err := led.Resolve(e.TxID); err != nil {
				return err
			}
			fmt.Printf("✓ %s already has reply %s\n", e.TxID, reply.ID)
		case errors.Is(err, store.ErrNotFound):
			open++
			fmt.Printf("• %s  post %s  author %s  amount %s  attempts %d  at %s\n",
				e.TxID, e.PostID, e.AuthorID, e.Amount, e.Attempts, e.At.Format("2006-01-02 15:04:05"))
			fmt.Printf("  last error: %s\n", e.Error)
		default:
			return err
		}
	}
	if open > 0 {
		fmt.Printf("\n%d settled payments have no reply. Refund or re-post them, then run 'replay reconcile --resolve <tx>'.\n", open)
	}
	return nil
}
