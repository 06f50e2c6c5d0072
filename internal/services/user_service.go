package services

import (
	"context"
	"fmt"

	"github.com/markdave123-py/Groundwise/internal/core"
	"github.com/markdave123-py/Groundwise/internal/models"
)

type UserService struct {
	db core.DbClient
}

func NewUserService(db core.DbClient) *UserService {
	return &UserService{db: db}
}

func (s *UserService) Create(ctx context.Context, u *models.User) error {
	if u == nil || u.Email == "" || u.PasswordHash == "" {
		return fmt.Errorf("%w: user needs an email and a password", ErrInvalidPayload)
	}
	return s.db.CreateUser(ctx, u)
}

// GetByEmail returns nil without error when no user has the email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.db.GetUserByEmail(ctx, email)
}
