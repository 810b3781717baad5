package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alphabot-ai/replay/internal/auth"
	"github.com/alphabot-ai/replay/internal/config"
	"github.com/alphabot-ai/replay/internal/ledger"
	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/rate"
	"github.com/alphabot-ai/replay/internal/replies"
	"github.com/alphabot-ai/replay/internal/store"
	"github.com/alphabot-ai/replay/internal/x402"

	_ "github.com/alphabot-ai/replay/docs" // swagger docs

	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// Journal is the reconciliation journal: the commit service appends to it and
// the health route reports its backlog.
type Journal interface {
	replies.Journal
	Pending() ([]ledger.Entry, error)
}

type Server struct {
	store    store.Store
	auth     *auth.Service
	limiter  rate.Limiter
	cfg      config.Config
	issuer   x402.Issuer
	verifier *x402.Verifier
	replies  *replies.Service
	journal  Journal
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithJournal(j Journal) Option {
	return func(s *Server) { s.journal = j }
}

// WithClock replaces the clock the verifier checks authorization windows
// against.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(st store.Store, authSvc *auth.Service, limiter rate.Limiter, settler x402.Settler, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		store:   st,
		auth:    authSvc,
		limiter: limiter,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.issuer = x402.Issuer{
		Network:           cfg.Payment.Network,
		PayTo:             cfg.Payment.PayTo,
		Asset:             cfg.Payment.Asset,
		AssetName:         cfg.Payment.AssetName,
		AssetVersion:      cfg.Payment.AssetVersion,
		MaxTimeoutSeconds: cfg.Payment.MaxTimeoutSeconds,
		Description:       "Post a reply",
		MimeType:          "application/json",
	}
	s.verifier = x402.NewVerifier(settler, x402.WithClock(s.now), x402.WithLogger(s.logger))
	// A nil *ledger.Ledger inside the interface would not compare equal to nil.
	var journal replies.Journal
	if s.journal != nil {
		journal = s.journal
	}
	s.replies = replies.NewService(st, journal, s.logger)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.route(rec, r)
	s.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/"):
		s.handleAPI(w, r)
	case strings.HasPrefix(path, "/swagger/"):
		httpSwagger.WrapHandler.ServeHTTP(w, r)
	case path == "/":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"name":    "replay",
			"version": s.cfg.Version,
			"docs":    "/swagger/index.html",
		})
	default:
		notFound(w)
	}
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	segments := splitPath(path)

	switch {
	case len(segments) == 1 && segments[0] == "health":
		if r.Method == http.MethodGet {
			s.handleHealth(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "challenge":
		if r.Method == http.MethodPost {
			s.handleAuthChallenge(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "auth" && segments[1] == "verify":
		if r.Method == http.MethodPost {
			s.handleAuthVerify(w, r)
			return
		}
	case len(segments) == 1 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleListPosts(w, r)
			return
		}
		if r.Method == http.MethodPost {
			s.handleCreatePost(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "posts":
		if r.Method == http.MethodGet {
			s.handleGetPost(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "replies":
		if r.Method == http.MethodPost {
			s.handleCreateReply(w, r)
			return
		}
	case len(segments) == 2 && segments[0] == "replies":
		if r.Method == http.MethodGet {
			s.handleGetReply(w, r, segments[1])
			return
		}
	case len(segments) == 1 && segments[0] == "openapi.json":
		if r.Method == http.MethodGet {
			s.serveOpenAPIJSON(w, r)
			return
		}
	default:
		notFound(w)
		return
	}

	methodNotAllowed(w)
}

// handleHealth godoc
//
//	@Summary		Health check
//	@Description	Reports store reachability, the reconciliation backlog and the payment configuration.
//	@Tags			Meta
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Router			/api/health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	storeStatus := map[string]any{"ok": true}
	if err := s.store.Ping(ctx); err != nil {
		status = "degraded"
		storeStatus = map[string]any{"ok": false, "error": err.Error()}
	}

	chainID, _ := s.cfg.Payment.ChainID()
	resp := map[string]any{
		"status":    status,
		"timestamp": s.now().UTC(),
		"version":   s.cfg.Version,
		"store":     storeStatus,
		"config": map[string]any{
			"network":       s.cfg.Payment.Network,
			"chain_id":      chainID,
			"asset":         s.cfg.Payment.Asset,
			"pay_to":        s.cfg.Payment.PayTo,
			"price":         s.cfg.Payment.Price,
			"price_display": model.FormatAmount(s.cfg.Payment.Price, int32(s.cfg.Payment.AssetDecimals)),
			"settlement":    s.cfg.Settlement.Mode,
		},
	}
	if s.journal != nil {
		if pending, err := s.journal.Pending(); err == nil {
			resp["pending_reconciliation"] = len(pending)
			if len(pending) > 0 {
				resp["status"] = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAuthChallenge godoc
//
//	@Summary		Get authentication challenge
//	@Description	Returns a single-use challenge string to personal_sign with your wallet. Step 1 of the auth flow.
//	@Tags			Authentication
//	@Produce		json
//	@Success		200	{object}	model.Challenge
//	@Failure		429	{object}	map[string]string	"Rate limited"
//	@Router			/api/auth/challenge [post]
func (s *Server) handleAuthChallenge(w http.ResponseWriter, r *http.Request) {
	if !s.allowRateLimit(w, r, "auth", "", s.cfg.RateLimits.AuthPerMinute) {
		return
	}
	challenge, err := s.auth.CreateChallenge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

// handleAuthVerify godoc
//
//	@Summary		Verify signature and get token
//	@Description	Exchange a personal_sign signature of the challenge for a bearer token. The wallet's user is created on first login.
//	@Tags			Authentication
//	@Accept			json
//	@Produce		json
//	@Param			request	body		object{address=string,challenge=string,signature=string}	true	"Signed challenge"
//	@Success		200		{object}	map[string]interface{}	"Access token, expiry and user"
//	@Failure		400		{object}	map[string]string		"Missing fields"
//	@Failure		401		{object}	map[string]string		"Invalid signature"
//	@Router			/api/auth/verify [post]
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Challenge string `json:"challenge"`
		Signature string `json:"signature"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Address == "" || req.Challenge == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, errors.New("address, challenge and signature required"))
		return
	}
	token, user, err := s.auth.VerifyAndCreateToken(r.Context(), strings.TrimSpace(req.Address), strings.TrimSpace(req.Challenge), strings.TrimSpace(req.Signature))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token.Token,
		"expires_at":   token.ExpiresAt,
		"user":         user,
	})
}

// handleListPosts godoc
//
//	@Summary		List posts
//	@Description	Newest posts first, with reply counts and tip totals.
//	@Tags			Posts
//	@Produce		json
//	@Param			limit	query		int	false	"Results per page"	default(50)	maximum(100)
//	@Param			offset	query		int	false	"Results to skip"
//	@Success		200		{object}	map[string]interface{}	"Posts list"
//	@Router			/api/posts [get]
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)

	posts, err := s.store.ListPosts(r.Context(), store.PostListOpts{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for i := range posts {
		s.decoratePost(&posts[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

// handleGetPost godoc
//
//	@Summary		Get a post
//	@Description	A post with its paid replies, oldest reply first.
//	@Tags			Posts
//	@Produce		json
//	@Param			id	path		string	true	"Post ID"
//	@Success		200	{object}	map[string]interface{}	"Post and replies"
//	@Failure		404	{object}	map[string]string		"Post not found"
//	@Router			/api/posts/{id} [get]
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request, id string) {
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rs, err := s.store.GetReplies(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.decoratePost(&post)
	writeJSON(w, http.StatusOK, map[string]any{
		"post":    post,
		"replies": rs,
	})
}

// handleCreatePost godoc
//
//	@Summary		Create a post
//	@Description	Posting is free. Requires authentication.
//	@Tags			Posts
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			post	body		object{content=string}	true	"Post content (max 280 characters)"
//	@Success		201		{object}	map[string]interface{}	"Created post"
//	@Failure		400		{object}	map[string]string		"Invalid input"
//	@Failure		401		{object}	map[string]string		"Authentication required"
//	@Failure		429		{object}	map[string]string		"Rate limited"
//	@Router			/api/posts [post]
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	if !s.allowRateLimit(w, r, "post", verified.UserID, s.cfg.RateLimits.PostPerMinute) {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, err := validateContent(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := s.store.GetOrCreateUser(r.Context(), verified.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	post := model.Post{AuthorID: user.ID, Content: content}
	if err := s.store.CreatePost(r.Context(), &post); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	post.Author = &user
	s.decoratePost(&post)
	writeJSON(w, http.StatusCreated, map[string]any{
		"post":    post,
		"message": "Post created",
	})
}

// handleCreateReply godoc
//
//	@Summary		Reply to a post (paid)
//	@Description	Without X-PAYMENT the server answers 402 with the payment requirements in X-PAYMENT-REQUIREMENTS.
//	@Description	Retry with a signed X-PAYMENT envelope; on success the reply is stored and X-PAYMENT-RESPONSE carries the settlement.
//	@Tags			Replies
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			reply		body		object{post_id=string,content=string}	true	"Reply (max 280 characters)"
//	@Param			X-PAYMENT	header		string									false	"base64 payment envelope"
//	@Success		201			{object}	map[string]interface{}					"Reply posted"
//	@Failure		400			{object}	map[string]string						"Invalid input"
//	@Failure		401			{object}	map[string]string						"Authentication required"
//	@Failure		402			{object}	x402.PaymentRequired					"Payment required or rejected"
//	@Failure		404			{object}	map[string]string						"Post not found"
//	@Failure		409			{object}	map[string]string						"Payment already used for a reply"
//	@Failure		429			{object}	map[string]string						"Rate limited"
//	@Failure		500			{object}	map[string]string						"Payment settled but reply not stored"
//	@Router			/api/replies [post]
func (s *Server) handleCreateReply(w http.ResponseWriter, r *http.Request) {
	verified, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	// Only paid attempts count, so the unpaid challenge round trip is free.
	header := strings.TrimSpace(r.Header.Get(x402.HeaderPayment))
	if header != "" && !s.allowRateLimit(w, r, "reply", verified.UserID, s.cfg.RateLimits.ReplyPerMinute) {
		return
	}
	var req struct {
		PostID  string `json:"post_id"`
		Content string `json:"content"`
	}
	if err := readJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.PostID) == "" {
		writeError(w, http.StatusBadRequest, errors.New("post_id and content required"))
		return
	}
	content, err := validateContent(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx := r.Context()
	post, err := s.store.GetPost(ctx, strings.TrimSpace(req.PostID))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	user, err := s.store.GetOrCreateUser(ctx, verified.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	requirements := s.issuer.Requirements(x402.Terms{
		Amount:   s.cfg.Payment.Price,
		Resource: r.URL.Path,
	})
	if header == "" {
		_ = x402.WritePaymentRequired(w, requirements, "payment required to reply")
		return
	}

	outcome := s.verifier.Verify(ctx, header, requirements)
	if !outcome.Success {
		s.logger.Info("payment rejected", "reason", outcome.Reason, "detail", outcome.Detail, "user", user.ID, "post", post.ID)
		_ = x402.WritePaymentFailed(w, requirements, outcome.Reason, outcome.Detail)
		return
	}

	// The payment has settled from here on, so the client always gets its
	// receipt, whatever happens to the reply.
	if settlement, err := x402.EncodeSettlement(outcome.SettlementHeader()); err == nil {
		w.Header().Set(x402.HeaderPaymentResponse, settlement)
	}

	reply, err := s.replies.Commit(ctx, replies.CommitRequest{
		PostID:   post.ID,
		AuthorID: user.ID,
		Content:  content,
		TxID:     outcome.TxID,
		Amount:   outcome.Amount,
	})
	if err != nil {
		var commitErr *replies.CommitError
		switch {
		case errors.Is(err, replies.ErrAlreadyCommitted):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": "payment already used for a reply",
				"code":  "ALREADY_COMMITTED",
				"tx_id": outcome.TxID,
			})
		case errors.As(err, &commitErr):
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": "payment settled but the reply could not be stored",
				"code":  "COMMIT_FAILED",
				"tx_id": commitErr.TxID,
			})
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	reply.Author = &user
	writeJSON(w, http.StatusCreated, map[string]any{
		"reply":   reply,
		"message": "Reply posted",
	})
}

// handleGetReply godoc
//
//	@Summary		Look up a reply by payment
//	@Description	Finds the reply a settled transaction paid for.
//	@Tags			Replies
//	@Produce		json
//	@Param			tx	path		string	true	"Settlement transaction id"
//	@Success		200	{object}	model.Reply
//	@Failure		404	{object}	map[string]string	"No reply for this transaction"
//	@Router			/api/replies/{tx} [get]
func (s *Server) handleGetReply(w http.ResponseWriter, r *http.Request, txID string) {
	reply, err := s.store.GetReplyByTxHash(r.Context(), txID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) serveOpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write([]byte(doc))
}

func (s *Server) decoratePost(p *model.Post) {
	if p.TotalTips == "" {
		p.TotalTips = "0"
	}
	p.TotalTipsDisplay = model.FormatAmount(p.TotalTips, int32(s.cfg.Payment.AssetDecimals))
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", errors.New("content required")
	}
	if n := utf8.RuneCountInString(content); n > model.MaxContentLength {
		return "", fmt.Errorf("content is %d characters, max %d", n, model.MaxContentLength)
	}
	return content, nil
}

func (s *Server) allowRateLimit(w http.ResponseWriter, r *http.Request, action, userID string, limit int) bool {
	if limit <= 0 {
		return true
	}
	ipKey := fmt.Sprintf("%s:ip:%s", action, s.clientIP(r))
	if ok, retry := s.limiter.Allow(ipKey, limit, time.Minute); !ok {
		writeRateLimit(w, retry)
		return false
	}
	if userID != "" {
		userKey := fmt.Sprintf("%s:user:%s", action, userID)
		if ok, retry := s.limiter.Allow(userKey, limit, time.Minute); !ok {
			writeRateLimit(w, retry)
			return false
		}
	}
	return true
}

func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Verified, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
		return auth.Verified{}, false
	}
	bearer := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	verified, err := s.auth.Authenticate(r.Context(), bearer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = errors.New("invalid bearer token")
		}
		writeError(w, http.StatusUnauthorized, err)
		return auth.Verified{}, false
	}
	return verified, true
}

func (s *Server) clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func readJSON(body io.ReadCloser, dest any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error(), "code": errorCode(status)})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "VALIDATION"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return "INTERNAL"
	}
}

func writeRateLimit(w http.ResponseWriter, retry time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "rate limit exceeded",
		"code":        "RATE_LIMITED",
		"retry_after": int(retry.Seconds()),
	})
}

func notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, errors.New("not found"))
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	return def
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
