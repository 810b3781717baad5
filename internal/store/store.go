package store

import (
	"context"
	"errors"

	"github.com/alphabot-ai/replay/internal/model"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateReply = errors.New("duplicate reply for payment")
)

type PostListOpts struct {
	Limit  int
	Offset int
}

// Store is the persistence boundary for the server. Implementations must
// report failures as errors and never silently drop a write.
type Store interface {
	PostStore
	UserStore
	ReplyStore
	AuthStore
	Ping(ctx context.Context) error
	Close() error
}

type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id string) (model.Post, error)
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, error)
}

type UserStore interface {
	GetOrCreateUser(ctx context.Context, address string) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
}

// ReplyStore inserts replies atomically. AddReply returns ErrDuplicateReply
// when a reply already exists for reply.PaymentTxHash.
type ReplyStore interface {
	AddReply(ctx context.Context, reply *model.Reply) error
	GetReplies(ctx context.Context, postID string) ([]model.Reply, error)
	GetReplyByTxHash(ctx context.Context, txHash string) (model.Reply, error)
}

type AuthStore interface {
	CreateChallenge(ctx context.Context, c model.Challenge) error
	ConsumeChallenge(ctx context.Context, challenge string) (model.Challenge, error)
	CreateToken(ctx context.Context, token model.Token) error
	GetToken(ctx context.Context, token string) (model.Token, error)
}
