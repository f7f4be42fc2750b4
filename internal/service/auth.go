// Package service holds the record store business logic, delegating
// persistence to repository interfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidLogin is returned for logins that cannot name a vault identity.
var ErrInvalidLogin = errors.New("login must be an email address")

// AuthRepository defines the persistence operations
// required by the authentication service.
type AuthRepository interface {
	// UserExists returns true if a user with the given login exists.
	UserExists(ctx context.Context, login string) (bool, error)
	// RegisterUser creates a new user record with the given login.
	RegisterUser(ctx context.Context, login string) error
}

// Service implements authentication operations by delegating
// to an AuthRepository.
type Service struct {
	// repo performs the data-layer operations.
	repo AuthRepository
}

// NewAuthService constructs a new Service using the provided repository.
func NewAuthService(repo AuthRepository) *Service {
	return &Service{repo: repo}
}

// NormalizeLogin lowercases and trims login and checks it has the
// local@domain shape the client derives its keys from.
func NormalizeLogin(login string) (string, error) {
	l := strings.ToLower(strings.TrimSpace(login))
	local, domain, ok := strings.Cut(l, "@")
	if !ok || local == "" || domain == "" || strings.ContainsAny(domain, "@") || strings.Contains(l, ":") {
		return "", fmt.Errorf("%q: %w", login, ErrInvalidLogin)
	}
	return l, nil
}

// UserExists reports whether login is registered. Logins are compared in
// normalized form; a login that is not an email address is never registered.
func (s *Service) UserExists(ctx context.Context, login string) (bool, error) {
	l, err := NormalizeLogin(login)
	if err != nil {
		return false, nil
	}
	return s.repo.UserExists(ctx, l)
}

// RegisterUser registers the normalized form of login.
func (s *Service) RegisterUser(ctx context.Context, login string) error {
	l, err := NormalizeLogin(login)
	if err != nil {
		return err
	}
	return s.repo.RegisterUser(ctx, l)
}
