// Package replies stores paid replies. A settled payment maps to exactly one
// reply, keyed by its transaction id.
package replies

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alphabot-ai/replay/internal/ledger"
	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/store"
)

var ErrAlreadyCommitted = errors.New("reply already committed for this payment")

// CommitError means money moved but no reply was stored. The payment needs
// manual reconciliation.
type CommitError struct {
	TxID string
	Err  error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit reply for %s: %v", e.TxID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Journal receives settled payments that could not be committed.
type Journal interface {
	Append(e ledger.Entry) error
}

type CommitRequest struct {
	PostID   string
	AuthorID string
	Content  string
	TxID     string
	Amount   string
}

type Service struct {
	store   store.ReplyStore
	journal Journal
	logger  *slog.Logger
}

func NewService(s store.ReplyStore, journal Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, journal: journal, logger: logger}
}

// Commit writes the reply in a single insert guarded by the unique tx id.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (model.Reply, error) {
	if strings.TrimSpace(req.TxID) == "" {
		return model.Reply{}, errors.New("commit reply: missing transaction id")
	}
	reply := model.Reply{
		PostID:        req.PostID,
		AuthorID:      req.AuthorID,
		Content:       req.Content,
		PaymentTxHash: req.TxID,
		PaymentAmount: req.Amount,
	}
	err := s.store.AddReply(ctx, &reply)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, store.ErrDuplicateReply) {
		return model.Reply{}, ErrAlreadyCommitted
	}

	s.logger.Error("reconciliation required",
		"tx", req.TxID,
		"post_id", req.PostID,
		"author_id", req.AuthorID,
		"amount", req.Amount,
		"error", err,
	)
	if s.journal != nil {
		jerr := s.journal.Append(ledger.Entry{
			TxID:     req.TxID,
			PostID:   req.PostID,
			AuthorID: req.AuthorID,
			Amount:   req.Amount,
			Error:    err.Error(),
		})
		if jerr != nil {
			s.logger.Error("journal append failed", "tx", req.TxID, "error", jerr)
		}
	}
	return model.Reply{}, &CommitError{TxID: req.TxID, Err: err}
}
