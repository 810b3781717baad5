// Package memory is a process-local store.Store used for demos and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu         sync.RWMutex
	now        func() time.Time
	users      map[string]model.User
	byAddress  map[string]string
	posts      map[string]model.Post
	replies    map[string][]model.Reply
	byTxHash   map[string]model.Reply
	challenges map[string]model.Challenge
	tokens     map[string]model.Token
	seq        int64
	postSeq    map[string]int64
}

func New() *Store {
	return &Store{
		now:        time.Now,
		users:      make(map[string]model.User),
		byAddress:  make(map[string]string),
		posts:      make(map[string]model.Post),
		replies:    make(map[string][]model.Reply),
		byTxHash:   make(map[string]model.Reply),
		challenges: make(map[string]model.Challenge),
		tokens:     make(map[string]model.Token),
		postSeq:    make(map[string]int64),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) GetOrCreateUser(ctx context.Context, address string) (model.User, error) {
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return model.User{}, errors.New("wallet address required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byAddress[normalized]; ok {
		return s.users[id], nil
	}
	u := model.User{
		ID:            uuid.NewString(),
		WalletAddress: normalized,
		DisplayName:   model.ShortAddress(address),
		CreatedAt:     s.now(),
	}
	s.users[u.ID] = u
	s.byAddress[normalized] = u.ID
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[post.AuthorID]; !ok {
		return errors.New("create post: unknown author")
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now()
	}
	post.TotalTips = "0"
	post.ReplyCount = 0
	s.seq++
	s.postSeq[post.ID] = s.seq
	stored := *post
	stored.Author = nil
	s.posts[post.ID] = stored
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return model.Post{}, store.ErrNotFound
	}
	return s.decoratePost(p), nil
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	posts := make([]model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		posts = append(posts, s.decoratePost(p))
	}
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return s.postSeq[posts[i].ID] > s.postSeq[posts[j].ID]
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(posts) {
		return nil, nil
	}
	posts = posts[offset:]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *Store) decoratePost(p model.Post) model.Post {
	replies := s.replies[p.ID]
	amounts := make([]string, 0, len(replies))
	for _, r := range replies {
		amounts = append(amounts, r.PaymentAmount)
	}
	p.ReplyCount = len(replies)
	p.TotalTips = model.AddAmounts(amounts...)
	if u, ok := s.users[p.AuthorID]; ok {
		author := u
		p.Author = &author
	}
	return p
}

// AddReply holds the write lock across the duplicate check and the insert,
// which is what makes the tx hash uniqueness atomic.
func (s *Store) AddReply(ctx context.Context, reply *model.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTxHash[reply.PaymentTxHash]; ok {
		return store.ErrDuplicateReply
	}
	if _, ok := s.posts[reply.PostID]; !ok {
		return errors.New("add reply: unknown post")
	}
	if _, ok := s.users[reply.AuthorID]; !ok {
		return errors.New("add reply: unknown author")
	}
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = s.now()
	}
	stored := *reply
	stored.Author = nil
	s.replies[reply.PostID] = append(s.replies[reply.PostID], stored)
	s.byTxHash[reply.PaymentTxHash] = stored
	return nil
}

func (s *Store) GetReplies(ctx context.Context, postID string) ([]model.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored := s.replies[postID]
	out := make([]model.Reply, 0, len(stored))
	for _, r := range stored {
		out = append(out, s.decorateReply(r))
	}
	return out, nil
}

func (s *Store) GetReplyByTxHash(ctx context.Context, txHash string) (model.Reply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byTxHash[txHash]
	if !ok {
		return model.Reply{}, store.ErrNotFound
	}
	return s.decorateReply(r), nil
}

func (s *Store) decorateReply(r model.Reply) model.Reply {
	if u, ok := s.users[r.AuthorID]; ok {
		author := u
		r.Author = &author
	}
	return r
}

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[c.Challenge] = c
	return nil
}

func (s *Store) ConsumeChallenge(ctx context.Context, challenge string) (model.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[challenge]
	if !ok {
		return model.Challenge{}, store.ErrNotFound
	}
	delete(s.challenges, challenge)
	return c, nil
}

func (s *Store) CreateToken(ctx context.Context, token model.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *Store) GetToken(ctx context.Context, token string) (model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return model.Token{}, store.ErrNotFound
	}
	return t, nil
}
