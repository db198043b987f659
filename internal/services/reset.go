package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/akram-events/apiserver/internal/clock"
	"github.com/akram-events/apiserver/internal/store"
	"github.com/akram-events/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultResetTokenTTL = 15 * time.Minute
	resetTokenBytes      = 20
	resetMailTimeout     = 30 * time.Second
)

// ResetMailer delivers the plaintext reset token to the user out-of-band.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// ResetService manages the password-reset token lifecycle. Tokens are
// high-entropy, single-use and expiring; only their SHA-256 hash is stored.
type ResetService struct {
	users    UserRepository
	mailer   ResetMailer
	clock    clock.Clock
	tokenTTL time.Duration
}

type ResetServiceOption func(*ResetService)

// WithResetTokenTTL overrides the reset token validity window.
func WithResetTokenTTL(d time.Duration) ResetServiceOption {
	return func(s *ResetService) {
		if d > 0 {
			s.tokenTTL = d
		}
	}
}

func NewResetService(users UserRepository, mailer ResetMailer, clk clock.Clock, opts ...ResetServiceOption) *ResetService {
	svc := &ResetService{
		users:    users,
		mailer:   mailer,
		clock:    clk,
		tokenTTL: defaultResetTokenTTL,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Request issues a reset token for the given email and hands the plaintext
// token to the mailer. An unknown email is not an error: the caller-visible
// outcome is identical either way so the endpoint cannot be used to probe
// which addresses are registered.
func (s *ResetService) Request(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}

	expiresAt := s.clock.Now().Add(s.tokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, HashResetToken(token), expiresAt); err != nil {
		return err
	}

	// Mail delivery is fire-and-forget; a failed send is logged and the
	// user simply requests another token.
	go func() {
		mailCtx, cancel := context.WithTimeout(context.Background(), resetMailTimeout)
		defer cancel()
		if err := s.mailer.SendPasswordReset(mailCtx, user.Email, user.Name, token); err != nil {
			slog.Error("password reset mail delivery failed", "email", user.Email, "error", err)
		}
	}()

	return nil
}

// Consume exchanges a valid reset token for a password change. The store
// clears the token in the same statement that matches it, so a consumed or
// expired token can never be used again.
func (s *ResetService) Consume(ctx context.Context, token, newPassword string) (types.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return types.User{}, err
	}
	return s.users.ConsumeResetToken(ctx, HashResetToken(token), string(hashed), s.clock.Now())
}

// HashResetToken returns the hex SHA-256 digest stored in place of the
// plaintext token.
func HashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
