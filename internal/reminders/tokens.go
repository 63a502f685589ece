package reminders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"sphyra/internal/types"
)

const (
	// DefaultTokenTTL is how long a confirmation link stays valid.
	DefaultTokenTTL = 48 * time.Hour
	// DefaultTokenCost is the bcrypt work factor for token hashes.
	DefaultTokenCost = 12
	// MinTokenLength rejects presented tokens before any hash comparison.
	MinTokenLength = 64

	tokenBytes = 32
)

// TokenStore writes the token fields of an appointment. Hash and expiry are
// always written or cleared together.
type TokenStore interface {
	SetToken(ctx context.Context, appointmentID, hash string, expiresAt time.Time) error
	ClearToken(ctx context.Context, appointmentID string) error
}

// TokenHasher abstracts the one-way hash so tests can observe comparisons.
type TokenHasher interface {
	Hash(token string) (string, error)
	Compare(hash, token string) error
}

type bcryptHasher struct {
	cost int
}

func (h bcryptHasher) Hash(token string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(token), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h bcryptHasher) Compare(hash, token string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token))
}

// TokenService issues, verifies and invalidates one-time confirmation
// tokens. Plaintext tokens are returned to the caller and never stored.
type TokenService struct {
	store    TokenStore
	hasher   TokenHasher
	ttl      time.Duration
	clock    types.Clock
	logger   *slog.Logger
	generate func() (string, error)
}

// TokenServiceConfig holds the dependencies for a TokenService.
// If Hasher is nil, bcrypt with Cost (default 12) is used.
type TokenServiceConfig struct {
	Store  TokenStore
	Hasher TokenHasher
	Cost   int
	TTL    time.Duration
	Clock  types.Clock
	Logger *slog.Logger
}

// NewTokenService creates a TokenService.
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	hasher := cfg.Hasher
	if hasher == nil {
		cost := cfg.Cost
		if cost == 0 {
			cost = DefaultTokenCost
		}
		hasher = bcryptHasher{cost: cost}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenService{
		store:    cfg.Store,
		hasher:   hasher,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		generate: generateToken,
	}
}

// generateToken returns 256 bits from the system CSPRNG, hex encoded
// (64 characters, within bcrypt's 72-byte input limit).
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Issue generates a fresh token for the appointment, persists its hash with
// a new expiry, and returns the plaintext. Any previous token stops
// verifying. appt is updated in place to mirror the stored fields.
func (s *TokenService) Issue(ctx context.Context, appt *types.Appointment) (string, error) {
	token, err := s.generate()
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate confirmation token", err)
	}
	hash, err := s.hasher.Hash(token)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash confirmation token", err)
	}

	expiresAt := s.clock.Now().Add(s.ttl)
	if err := s.store.SetToken(ctx, appt.ID, hash, expiresAt); err != nil {
		return "", err
	}

	appt.ConfirmationTokenHash = &hash
	appt.TokenExpiresAt = &expiresAt
	s.logger.Debug("confirmation token issued", "appointment_id", appt.ID, "expires_at", expiresAt)
	return token, nil
}

// Verify checks a presented token against the appointment. Checks run in
// order: format, presence, expiry, hash. The hash is only compared once the
// cheap checks pass.
func (s *TokenService) Verify(appt *types.Appointment, token string) error {
	if len(token) < MinTokenLength {
		return types.NewAppError(types.ErrCodeTokenFormatInvalid, "Invalid confirmation token format", nil)
	}
	if !appt.HasToken() {
		return types.NewAppError(types.ErrCodeTokenMissing, "No confirmation token found for this appointment", nil)
	}
	if s.clock.Now().After(*appt.TokenExpiresAt) {
		return types.NewAppError(types.ErrCodeTokenExpired, "Confirmation token has expired. Please contact us.", nil)
	}
	if err := s.hasher.Compare(*appt.ConfirmationTokenHash, token); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Warn("confirmation token comparison failed", "appointment_id", appt.ID, "error", err)
		}
		return types.NewAppError(types.ErrCodeTokenMismatch, "Invalid confirmation token. Please check the link.", nil)
	}
	return nil
}

// Invalidate clears both token fields.
func (s *TokenService) Invalidate(ctx context.Context, appt *types.Appointment) error {
	if err := s.store.ClearToken(ctx, appt.ID); err != nil {
		return err
	}
	appt.ConfirmationTokenHash = nil
	appt.TokenExpiresAt = nil
	return nil
}
