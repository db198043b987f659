package services

import (
	"context"
	"time"

	"github.com/akram-events/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	SetResetToken(ctx context.Context, id int, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, id int) error
	ConsumeResetToken(ctx context.Context, tokenHash, newPasswordHash string, now time.Time) (types.User, error)
	SetPasswordHash(ctx context.Context, id int, passwordHash string) error
	Delete(ctx context.Context, id int) error
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

// ClearResetToken drops any pending password-reset token for the user.
func (s *UserService) ClearResetToken(ctx context.Context, id int) error {
	return s.repo.ClearResetToken(ctx, id)
}

func (s *UserService) Delete(ctx context.Context, id int) error {
	return s.repo.Delete(ctx, id)
}
