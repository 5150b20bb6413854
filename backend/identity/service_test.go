// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package identity

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage/memory"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := memory.NewStore()
	auth := NewAuthenticator("test-secret", "efsync", time.Hour)
	policy := retry.Policy{MaxAttempts: 1, Timeout: time.Second}
	s := NewService(store, store, auth, policy, log.New(io.Discard))
	s.cost = bcrypt.MinCost
	return s
}

func TestSignUpAndSignIn(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	session, err := s.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "secret1", Fullname: "Alice"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if session.User.ID == "" || session.User.Fullname != "Alice" {
		t.Fatalf("unexpected user %+v", session.User)
	}

	claims, err := s.Authenticate(ctx, session.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if claims.UserID != session.User.ID {
		t.Errorf("expected %s, got %s", session.User.ID, claims.UserID)
	}

	signedIn, err := s.SignIn(ctx, "ALICE@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if signedIn.User.ID != session.User.ID {
		t.Errorf("expected same user, got %s", signedIn.User.ID)
	}
}

// lostReplyUsers commits user creates but reports a transport error for
// the first failures calls.
type lostReplyUsers struct {
	*memory.Store

	failures int
}

func (l *lostReplyUsers) CreateUser(ctx context.Context, user models.User, passwordHash []byte) error {
	if err := l.Store.CreateUser(ctx, user, passwordHash); err != nil {
		return err
	}
	if l.failures > 0 {
		l.failures--
		return errors.New("i/o timeout")
	}
	return nil
}

func TestSignUpRetryAfterLostReply(t *testing.T) {
	mem := memory.NewStore()
	users := &lostReplyUsers{Store: mem, failures: 1}
	auth := NewAuthenticator("test-secret", "efsync", time.Hour)
	policy := retry.Policy{MaxAttempts: 2, Timeout: time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	s := NewService(users, mem, auth, policy, log.New(io.Discard))
	s.cost = bcrypt.MinCost
	ctx := context.Background()

	session, err := s.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("expected sign up to succeed, got %v", err)
	}
	if _, err := s.SignIn(ctx, "alice@example.com", "secret1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	if _, err := s.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "secret2"}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for a second account, got %v", err)
	}
	if session.User.ID == "" {
		t.Error("expected a user id")
	}
}

func TestSignUpValidation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SignUpRequest
		want error
	}{
		{"missing at", SignUpRequest{Email: "alice.example.com", Password: "secret1"}, models.ErrValidation},
		{"short password", SignUpRequest{Email: "alice@example.com", Password: "12345"}, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.SignUp(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := s.SignUp(ctx, SignUpRequest{Email: "bob@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := s.SignUp(ctx, SignUpRequest{Email: "bob@example.com", Password: "secret2"}); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := s.SignIn(ctx, "alice@example.com", "wrong-pass"); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for wrong password, got %v", err)
	}
	if _, err := s.SignIn(ctx, "nobody@example.com", "secret1"); !errors.Is(err, models.ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated for unknown email, got %v", err)
	}
}

func TestSignOutRevokesToken(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	session, err := s.SignUp(ctx, SignUpRequest{Email: "alice@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := s.SignOut(ctx, session.Token); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := s.Authenticate(ctx, session.Token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected ErrRevokedToken, got %v", err)
	}

	other, err := s.SignIn(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := s.Authenticate(ctx, other.Token); err != nil {
		t.Errorf("expected new session to stay valid, got %v", err)
	}
}
