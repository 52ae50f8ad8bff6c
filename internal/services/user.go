package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
)

// UserService encapsulates identity use-cases.
type UserService struct {
	users    UserRepository
	profiles ProfileRepository
}

func NewUserService(users UserRepository, profiles ProfileRepository) *UserService {
	return &UserService{users: users, profiles: profiles}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.users.GetByEmail(ctx, normalizeEmail(email))
}

// Create registers a new identity. A duplicate email yields store.ErrConflict.
func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	email, err := validEmail(user.Email)
	if err != nil {
		return types.User{}, err
	}
	user.Email = email

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return types.User{}, store.ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}
	return s.users.Create(ctx, user)
}

// Profile returns the profile of a user, or store.ErrNotFound before onboarding.
func (s *UserService) Profile(ctx context.Context, id string) (types.Profile, error) {
	return s.profiles.GetByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	if email == "" {
		return "", validationErr("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", validationErr("invalid email %q", raw)
	}
	return email, nil
}
