package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/store"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	wallet_address TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(author_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);

CREATE TABLE IF NOT EXISTS replies (
	id TEXT PRIMARY KEY,
	post_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	content TEXT NOT NULL,
	payment_tx_hash TEXT NOT NULL UNIQUE,
	payment_amount TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(post_id) REFERENCES posts(id),
	FOREIGN KEY(author_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_replies_post_id ON replies(post_id, created_at);

CREATE TABLE IF NOT EXISTS auth_challenges (
	challenge TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	address TEXT NOT NULL,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) GetOrCreateUser(ctx context.Context, address string) (model.User, error) {
	normalized := model.NormalizeAddress(address)
	if normalized == "" {
		return model.User{}, errors.New("wallet address required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, wallet_address, display_name, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(wallet_address) DO NOTHING
`, uuid.NewString(), normalized, model.ShortAddress(address), s.now().UnixMilli())
	if err != nil {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, wallet_address, display_name, created_at
FROM users
WHERE wallet_address = ?
`, normalized)
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, wallet_address, display_name, created_at
FROM users
WHERE id = ?
`, id)
	return scanUser(row)
}

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO posts (id, author_id, content, created_at)
VALUES (?, ?, ?, ?)
`, post.ID, post.AuthorID, post.Content, post.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	if post.TotalTips == "" {
		post.TotalTips = "0"
	}
	return nil
}

const postColumns = `
SELECT p.id, p.author_id, p.content, p.created_at,
	(SELECT COUNT(*) FROM replies r WHERE r.post_id = p.id),
	COALESCE((SELECT SUM(CAST(r.payment_amount AS INTEGER)) FROM replies r WHERE r.post_id = p.id), 0),
	u.wallet_address, u.display_name, u.created_at
FROM posts p
LEFT JOIN users u ON u.id = p.author_id
`

func (s *Store) GetPost(ctx context.Context, id string) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, postColumns+`WHERE p.id = ? LIMIT 1`, id)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	limit = clamp(limit, 1, 100)
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, postColumns+`ORDER BY p.created_at DESC, p.rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *Store) AddReply(ctx context.Context, reply *model.Reply) error {
	if reply.ID == "" {
		reply.ID = uuid.NewString()
	}
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO replies (id, post_id, author_id, content, payment_tx_hash, payment_amount, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, reply.ID, reply.PostID, reply.AuthorID, reply.Content, reply.PaymentTxHash, reply.PaymentAmount, reply.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateReply
		}
		return fmt.Errorf("add reply: %w", err)
	}
	return nil
}

const replyColumns = `
SELECT r.id, r.post_id, r.author_id, r.content, r.payment_tx_hash, r.payment_amount, r.created_at,
	u.wallet_address, u.display_name, u.created_at
FROM replies r
LEFT JOIN users u ON u.id = r.author_id
`

func (s *Store) GetReplies(ctx context.Context, postID string) ([]model.Reply, error) {
	rows, err := s.db.QueryContext(ctx, replyColumns+`WHERE r.post_id = ? ORDER BY r.created_at ASC, r.rowid ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var replies []model.Reply
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}
	return replies, rows.Err()
}

func (s *Store) GetReplyByTxHash(ctx context.Context, txHash string) (model.Reply, error) {
	row := s.db.QueryRowContext(ctx, replyColumns+`WHERE r.payment_tx_hash = ? LIMIT 1`, txHash)
	return scanReply(row)
}

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_challenges (challenge, expires_at, created_at)
VALUES (?, ?, ?)
`, c.Challenge, c.ExpiresAt.Unix(), s.now().Unix())
	return err
}

func (s *Store) ConsumeChallenge(ctx context.Context, challenge string) (model.Challenge, error) {
	row := s.db.QueryRowContext(ctx, `
DELETE FROM auth_challenges
WHERE challenge = ?
RETURNING challenge, expires_at
`, challenge)
	var c model.Challenge
	var expires int64
	if err := row.Scan(&c.Challenge, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Challenge{}, store.ErrNotFound
		}
		return model.Challenge{}, err
	}
	c.ExpiresAt = time.Unix(expires, 0)
	return c, nil
}

func (s *Store) CreateToken(ctx context.Context, token model.Token) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO auth_tokens (token, user_id, address, expires_at, created_at)
VALUES (?, ?, ?, ?, ?)
`, token.Token, token.UserID, token.Address, token.ExpiresAt.Unix(), s.now().Unix())
	return err
}

func (s *Store) GetToken(ctx context.Context, token string) (model.Token, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT token, user_id, address, expires_at
FROM auth_tokens
WHERE token = ?
`, token)
	var t model.Token
	var expires int64
	if err := row.Scan(&t.Token, &t.UserID, &t.Address, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Token{}, store.ErrNotFound
		}
		return model.Token{}, err
	}
	t.ExpiresAt = time.Unix(expires, 0)
	return t, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var created int64
	if err := row.Scan(&u.ID, &u.WalletAddress, &u.DisplayName, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	u.CreatedAt = time.UnixMilli(created)
	return u, nil
}

func scanPost(row scanner) (model.Post, error) {
	var p model.Post
	var created int64
	var tips int64
	var authorAddr, authorName sql.NullString
	var authorCreated sql.NullInt64
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, &created, &p.ReplyCount, &tips, &authorAddr, &authorName, &authorCreated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	p.CreatedAt = time.UnixMilli(created)
	p.TotalTips = strconv.FormatInt(tips, 10)
	p.Author = joinedUser(p.AuthorID, authorAddr, authorName, authorCreated)
	return p, nil
}

func scanReply(row scanner) (model.Reply, error) {
	var r model.Reply
	var created int64
	var authorAddr, authorName sql.NullString
	var authorCreated sql.NullInt64
	if err := row.Scan(&r.ID, &r.PostID, &r.AuthorID, &r.Content, &r.PaymentTxHash, &r.PaymentAmount, &created, &authorAddr, &authorName, &authorCreated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reply{}, store.ErrNotFound
		}
		return model.Reply{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	r.Author = joinedUser(r.AuthorID, authorAddr, authorName, authorCreated)
	return r, nil
}

func joinedUser(id string, addr, name sql.NullString, created sql.NullInt64) *model.User {
	if !addr.Valid {
		return nil
	}
	return &model.User{
		ID:            id,
		WalletAddress: addr.String,
		DisplayName:   name.String,
		CreatedAt:     time.UnixMilli(created.Int64),
	}
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
