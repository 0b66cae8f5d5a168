package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"gitlab.com/distributed_lab/logan/v3"
)

const (
	RoleAdmin       = "admin"
	RoleParticipant = "participant"
)

// Challenge is a one-time login nonce bound to an address.
type Challenge struct {
	Address   common.Address `json:"address"`
	Nonce     string         `json:"nonce"`
	Message   string         `json:"message"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ChallengeStore keeps pending challenges. TakeChallenge removes and returns
// the pending challenge for addr, or nil when there is none.
type ChallengeStore interface {
	PutChallenge(ctx context.Context, c *Challenge) error
	TakeChallenge(ctx context.Context, addr common.Address) (*Challenge, error)
}

type TokenSigner func(address common.Address, role string, ttl time.Duration) (string, error)

type AuthService struct {
	store        ChallengeStore
	admin        common.Address
	log          *logan.Entry
	now          func() time.Time
	nonceGen     func() string
	signToken    TokenSigner
	tokenTTL     time.Duration
	challengeTTL time.Duration
}

type AuthResult struct {
	Token     string         `json:"token"`
	Address   common.Address `json:"address"`
	Role      string         `json:"role"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type AuthOption func(*AuthService)

func WithTokenTTL(d time.Duration) AuthOption {
	return func(s *AuthService) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

func WithChallengeTTL(d time.Duration) AuthOption {
	return func(s *AuthService) {
		if d > 0 {
			s.challengeTTL = d
		}
	}
}

func WithAuthLogger(log *logan.Entry) AuthOption {
	return func(s *AuthService) {
		if log != nil {
			s.log = log
		}
	}
}

func NewAuthService(store ChallengeStore, admin common.Address, signer TokenSigner, opts ...AuthOption) *AuthService {
	s := &AuthService{
		store:        store,
		admin:        admin,
		log:          logan.New(),
		now:          func() time.Time { return time.Now().UTC() },
		nonceGen:     func() string { return uuid.NewString() },
		signToken:    signer,
		tokenTTL:     24 * time.Hour,
		challengeTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "auth")
	return s
}

// ChallengeMessage is the exact text a wallet signs to log in.
func ChallengeMessage(addr common.Address, nonce string) string {
	return fmt.Sprintf("pricecrowd login\naddress: %s\nnonce: %s", addr.Hex(), nonce)
}

// Challenge issues a fresh nonce for address, replacing any pending one.
func (s *AuthService) Challenge(ctx context.Context, address string) (*Challenge, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	nonce := s.nonceGen()
	c := &Challenge{
		Address:   addr,
		Nonce:     nonce,
		Message:   ChallengeMessage(addr, nonce),
		ExpiresAt: s.now().Add(s.challengeTTL),
	}
	if err := s.store.PutChallenge(ctx, c); err != nil {
		return nil, wrapStore(err, "failed to store challenge")
	}
	return c, nil
}

// Login consumes the pending challenge for address and checks that signature
// is a personal_sign signature of the challenge message by that address.
func (s *AuthService) Login(ctx context.Context, address, signature string) (*AuthResult, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(signature) == "" {
		return nil, NewInvalidError("signature required")
	}
	c, err := s.store.TakeChallenge(ctx, addr)
	if err != nil {
		return nil, wrapStore(err, "failed to load challenge")
	}
	if c == nil {
		return nil, NewUnauthorizedError("no pending challenge")
	}
	now := s.now()
	if !now.Before(c.ExpiresAt) {
		return nil, NewUnauthorizedError("challenge expired")
	}
	signer, err := RecoverSigner(c.Message, signature)
	if err != nil {
		s.log.WithError(err).WithField("address", addr.Hex()).Debug("failed to recover signer")
		return nil, NewUnauthorizedError("invalid signature")
	}
	if signer != addr {
		return nil, NewUnauthorizedError("invalid signature")
	}
	if s.signToken == nil {
		return nil, NewInvalidError("token signer not configured")
	}
	role := RoleParticipant
	if addr == s.admin {
		role = RoleAdmin
	}
	token, err := s.signToken(addr, role, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logan.F{"address": addr.Hex(), "role": role}).Info("login")
	return &AuthResult{Token: token, Address: addr, Role: role, ExpiresAt: now.Add(s.tokenTTL)}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}

// RecoverSigner returns the address that produced an EIP-191 signature over
// message. Both 0/1 and 27/28 recovery ids are accepted.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ParseAddress accepts a 0x-prefixed or bare 20-byte hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, NewInvalidError(fmt.Sprintf("invalid address %q", s))
	}
	return common.HexToAddress(s), nil
}
