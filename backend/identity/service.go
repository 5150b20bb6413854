// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package identity signs participants up and in, and turns session tokens
// back into participant ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage"
)

const minPasswordLength = 6

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Fullname string `json:"fullname"`
	Pseudo   string `json:"pseudo"`
	Phone    string `json:"phone"`
}

// Session is what a client keeps after signing in.
type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

type Service struct {
	users   storage.UserStore
	revoked storage.RevocationStore
	auth    *Authenticator
	policy  retry.Policy
	logger  *log.Logger
	cost    int
	newID   func() string
}

func NewService(users storage.UserStore, revoked storage.RevocationStore, auth *Authenticator, policy retry.Policy, logger *log.Logger) *Service {
	return &Service{
		users:   users,
		revoked: revoked,
		auth:    auth,
		policy:  policy,
		logger:  logger.With("component", "identity"),
		cost:    bcrypt.DefaultCost,
		newID:   uuid.NewString,
	}
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	email := strings.TrimSpace(req.Email)
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", models.ErrValidation)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w: %v", models.ErrService, err)
	}

	user := models.User{
		ID:       s.newID(),
		Email:    email,
		Fullname: strings.TrimSpace(req.Fullname),
		Pseudo:   strings.TrimSpace(req.Pseudo),
		Phone:    strings.TrimSpace(req.Phone),
	}
	err = retry.Run(ctx, s.policy, func(ctx context.Context) error {
		return s.users.CreateUser(ctx, user, hash)
	})
	if errors.Is(err, models.ErrAlreadyExists) && s.storedAs(ctx, user) {
		// A retried create found the account an earlier attempt committed.
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user signed up", "user", user.ID)
	return s.session(ctx, user)
}

// storedAs reports whether the account registered under user.Email is the
// one with user.ID.
func (s *Service) storedAs(ctx context.Context, user models.User) bool {
	stored, _, err := s.users.GetCredentials(ctx, user.Email)
	return err == nil && stored.ID == user.ID
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", models.ErrValidation)
	}

	type credentials struct {
		user *models.User
		hash []byte
	}
	creds, err := retry.Do(ctx, s.policy, func(ctx context.Context) (credentials, error) {
		u, hash, err := s.users.GetCredentials(ctx, email)
		return credentials{u, hash}, err
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("invalid email or password: %w", models.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(creds.hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", models.ErrUnauthenticated)
	}

	s.logger.Info("user signed in", "user", creds.user.ID)
	return s.session(ctx, *creds.user)
}

// SignOut revokes token until it would have expired.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(s.auth.now())
	if err := retry.Run(ctx, s.policy, func(ctx context.Context) error {
		return s.revoked.Revoke(ctx, claims.ID, ttl)
	}); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	s.logger.Info("user signed out", "user", claims.UserID)
	return nil
}

// Authenticate returns the claims of a valid, unexpired, unrevoked token.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.auth.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	revoked, err := retry.Do(ctx, s.policy, func(ctx context.Context) (bool, error) {
		return s.revoked.IsRevoked(ctx, claims.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

func (s *Service) session(ctx context.Context, user models.User) (*Session, error) {
	token, expires, err := s.auth.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	if stored, err := s.users.GetUser(ctx, user.ID); err == nil {
		user = *stored
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}
