package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/alphabot-ai/replay/internal/model"
	"github.com/alphabot-ai/replay/internal/store"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrChallengeExpired = errors.New("challenge expired")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAddress   = errors.New("invalid wallet address")
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Stores is what the service needs from persistence: challenges, tokens and
// first-sight user creation.
type Stores interface {
	store.AuthStore
	store.UserStore
}

type Service struct {
	store        Stores
	tokenTTL     time.Duration
	challengeTTL time.Duration
	now          func() time.Time
}

type Verified struct {
	UserID  string
	Address string
}

func NewService(st Stores, tokenTTL, challengeTTL time.Duration) *Service {
	return &Service{
		store:        st,
		tokenTTL:     tokenTTL,
		challengeTTL: challengeTTL,
		now:          time.Now,
	}
}

func (s *Service) CreateChallenge(ctx context.Context) (model.Challenge, error) {
	challenge, err := randomToken(32)
	if err != nil {
		return model.Challenge{}, err
	}
	c := model.Challenge{
		Challenge: challenge,
		ExpiresAt: s.now().Add(s.challengeTTL),
	}
	if err := s.store.CreateChallenge(ctx, c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}

// VerifyAndCreateToken consumes challenge, checks that signature is an
// EIP-191 personal_sign of it by address, and issues a bearer token for the
// wallet's user.
func (s *Service) VerifyAndCreateToken(ctx context.Context, address, challenge, signature string) (model.Token, model.User, error) {
	if !addressPattern.MatchString(strings.TrimSpace(address)) {
		return model.Token{}, model.User{}, ErrInvalidAddress
	}
	c, err := s.store.ConsumeChallenge(ctx, challenge)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	if s.now().After(c.ExpiresAt) {
		return model.Token{}, model.User{}, ErrChallengeExpired
	}

	signer, err := RecoverAddress(challenge, signature)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	if signer != model.NormalizeAddress(address) {
		return model.Token{}, model.User{}, ErrInvalidSignature
	}

	user, err := s.store.GetOrCreateUser(ctx, signer)
	if err != nil {
		return model.Token{}, model.User{}, err
	}

	tokenValue, err := randomToken(32)
	if err != nil {
		return model.Token{}, model.User{}, err
	}
	token := model.Token{
		Token:     tokenValue,
		UserID:    user.ID,
		Address:   user.WalletAddress,
		ExpiresAt: s.now().Add(s.tokenTTL),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return model.Token{}, model.User{}, err
	}
	return token, user, nil
}

func (s *Service) Authenticate(ctx context.Context, bearer string) (Verified, error) {
	token, err := s.store.GetToken(ctx, bearer)
	if err != nil {
		return Verified{}, err
	}
	if s.now().After(token.ExpiresAt) {
		return Verified{}, ErrTokenExpired
	}
	return Verified{UserID: token.UserID, Address: token.Address}, nil
}

// RecoverAddress returns the lowercased address that personal_signed message.
// signature is 65 bytes R || S || V with V in {0, 1, 27, 28}.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := decodeHex(signature)
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("%w: expected 65 hex bytes", ErrInvalidSignature)
	}
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}

	// decred wants the recovery code first: 27 + id for uncompressed keys.
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, ethereumPersonalHash([]byte(message)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pubkeyAddress(pub.SerializeUncompressed()), nil
}

func pubkeyAddress(uncompressed []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(uncompressed[1:])
	return "0x" + hex.EncodeToString(h.Sum(nil)[12:])
}

func decodeHex(input string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	return hex.DecodeString(clean)
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func ethereumPersonalHash(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prefix))
	h.Write(msg)
	return h.Sum(nil)
}
