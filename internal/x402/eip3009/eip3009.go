// Package eip3009 hashes, signs and recovers EIP-712 TransferWithAuthorization
// messages for the "exact" scheme.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/alphabot-ai/replay/internal/x402"
)

// Domain is the EIP-712 domain separator of the asset contract.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// ChainID extracts the numeric chain id from a CAIP-2 "eip155:<id>" network.
func ChainID(network string) (*big.Int, error) {
	ref, ok := strings.CutPrefix(network, "eip155:")
	if !ok {
		return nil, fmt.Errorf("eip3009: unsupported network %q", network)
	}
	id, ok := new(big.Int).SetString(ref, 10)
	if !ok || id.Sign() <= 0 {
		return nil, fmt.Errorf("eip3009: invalid chain id in %q", network)
	}
	return id, nil
}

// DomainFor builds the signing domain a challenge refers to.
func DomainFor(req x402.PaymentRequirements) (Domain, error) {
	chainID, err := ChainID(req.Network)
	if err != nil {
		return Domain{}, err
	}
	if !common.IsHexAddress(req.Asset) {
		return Domain{}, fmt.Errorf("eip3009: asset %q is not a contract address", req.Asset)
	}
	return Domain{
		Name:              req.Extra.Name,
		Version:           req.Extra.Version,
		ChainID:           chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}, nil
}

func GenerateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// NewAuthorization starts the validity window one second before now so it is
// already active when it reaches the server, and keeps the whole window
// within timeoutSeconds.
func NewAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int, now time.Time) (Authorization, error) {
	if timeoutSeconds <= 0 {
		return Authorization{}, errors.New("eip3009: timeout must be positive")
	}
	nonce, err := GenerateNonce()
	if err != nil {
		return Authorization{}, fmt.Errorf("eip3009: generate nonce: %w", err)
	}
	start := now.Unix() - 1
	return Authorization{
		From:        from,
		To:          to,
		Value:       new(big.Int).Set(value),
		ValidAfter:  big.NewInt(start),
		ValidBefore: big.NewInt(start + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// FromWire parses the string form carried in a payment envelope.
func FromWire(a x402.Authorization) (Authorization, error) {
	if !common.IsHexAddress(a.From) || !common.IsHexAddress(a.To) {
		return Authorization{}, errors.New("eip3009: invalid address")
	}
	out := Authorization{From: common.HexToAddress(a.From), To: common.HexToAddress(a.To)}
	var ok bool
	if out.Value, ok = new(big.Int).SetString(a.Value, 10); !ok {
		return Authorization{}, errors.New("eip3009: invalid value")
	}
	if out.ValidAfter, ok = new(big.Int).SetString(a.ValidAfter, 10); !ok {
		return Authorization{}, errors.New("eip3009: invalid validAfter")
	}
	if out.ValidBefore, ok = new(big.Int).SetString(a.ValidBefore, 10); !ok {
		return Authorization{}, errors.New("eip3009: invalid validBefore")
	}
	nonce, err := hexutil.Decode(a.Nonce)
	if err != nil || len(nonce) != 32 {
		return Authorization{}, errors.New("eip3009: nonce must be 32 bytes")
	}
	copy(out.Nonce[:], nonce)
	return out, nil
}

// Wire renders the authorization with decimal strings and a 0x nonce.
func (a Authorization) Wire() x402.Authorization {
	return x402.Authorization{
		From:        a.From.Hex(),
		To:          a.To.Hex(),
		Value:       a.Value.String(),
		ValidAfter:  a.ValidAfter.String(),
		ValidBefore: a.ValidBefore.String(),
		Nonce:       hexutil.Encode(a.Nonce[:]),
	}
}

func typedData(d Domain, a Authorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       (*math.HexOrDecimal256)(a.Value),
			"validAfter":  (*math.HexOrDecimal256)(a.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(a.ValidBefore),
			"nonce":       hexutil.Encode(a.Nonce[:]),
		},
	}
}

// Digest is keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func Digest(d Domain, a Authorization) ([]byte, error) {
	td := typedData(d, a)
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("eip3009: hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("eip3009: hash message: %w", err)
	}
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256(raw), nil
}

// Sign returns a 65-byte signature with v in {27, 28}.
func Sign(key *ecdsa.PrivateKey, d Domain, a Authorization) ([]byte, error) {
	digest, err := Digest(d, a)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("eip3009: sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig. Both the 0/1 and
// 27/28 recovery id conventions are accepted.
func RecoverSigner(d Domain, a Authorization, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("eip3009: signature must be %d bytes", crypto.SignatureLength)
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, errors.New("eip3009: invalid recovery id")
	}
	digest, err := Digest(d, a)
	if err != nil {
		return common.Address{}, err
	}
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("eip3009: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
