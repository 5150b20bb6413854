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

// Package memory is a process-local implementation of every store. It backs
// the "memory" storage driver for local runs and stands in for Postgres,
// Redis and S3 in tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/efchatnet/efsync/backend/chatkey"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/storage"
)

const subscriptionBuffer = 256

type Store struct {
	mu sync.Mutex

	users         map[string]models.User
	passwords     map[string][]byte
	conversations map[string]models.Conversation
	groups        map[string]models.Group
	messages      map[string][]models.Message
	subscribers   map[string]map[*subscription]struct{}
	objects       map[string]Object
	revoked       map[string]time.Time

	// ReplayOnSubscribe delivers every stored message to a new
	// subscription before live appends, like a "child added" listener.
	ReplayOnSubscribe bool

	now func() time.Time
}

// Object is a stored attachment.
type Object struct {
	ContentType string
	Data        []byte
}

var (
	_ storage.DirectoryStore  = (*Store)(nil)
	_ storage.MessageStore    = (*Store)(nil)
	_ storage.ObjectStore     = (*Store)(nil)
	_ storage.RevocationStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		users:         make(map[string]models.User),
		passwords:     make(map[string][]byte),
		conversations: make(map[string]models.Conversation),
		groups:        make(map[string]models.Group),
		messages:      make(map[string][]models.Message),
		subscribers:   make(map[string]map[*subscription]struct{}),
		objects:       make(map[string]Object),
		revoked:       make(map[string]time.Time),
		now:           time.Now,
	}
}

// Users

func (s *Store) CreateUser(ctx context.Context, user models.User, passwordHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user %s: %w", user.ID, models.ErrAlreadyExists)
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("user %s: %w", user.Email, models.ErrAlreadyExists)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = user
	s.passwords[user.ID] = append([]byte(nil), passwordHash...)
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetCredentials(ctx context.Context, email string) (*models.User, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, s.passwords[id], nil
		}
	}
	return nil, nil, fmt.Errorf("credentials for %s: %w", email, models.ErrNotFound)
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Fullname != users[j].Fullname {
			return users[i].Fullname < users[j].Fullname
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (s *Store) SaveProfile(ctx context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", user.ID, models.ErrNotFound)
	}
	for id, u := range s.users {
		if id != user.ID && strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("email %s: %w", user.Email, models.ErrAlreadyExists)
		}
	}
	user.CreatedAt = existing.CreatedAt
	s.users[user.ID] = user
	return nil
}

// Conversations

func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.Key]; ok {
		return false, nil
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	s.conversations[conv.Key] = conv
	return true, nil
}

func (s *Store) GetConversation(ctx context.Context, key string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[key]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", key, models.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) DeleteConversation(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[key]; !ok {
		return fmt.Errorf("conversation %s: %w", key, models.ErrNotFound)
	}
	delete(s.conversations, key)
	return nil
}

func (s *Store) ListConversationKeys(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.conversations {
		if chatkey.Involves(key, userID) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Groups

func (s *Store) CreateGroup(ctx context.Context, group models.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[group.ID]; ok {
		return fmt.Errorf("group %s: %w", group.ID, models.ErrAlreadyExists)
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = s.now()
	}
	group.Members = models.UnionMembers([]string{group.CreatorID}, group.Members...)
	s.groups[group.ID] = group
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	g.Members = append([]string(nil), g.Members...)
	return &g, nil
}

func (s *Store) AddGroupMembers(ctx context.Context, groupID string, userIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	g.Members = models.UnionMembers(g.Members, userIDs...)
	s.groups[groupID] = g
	return append([]string(nil), g.Members...), nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[groupID]; !ok {
		return fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	delete(s.groups, groupID)
	return nil
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []models.Group
	for _, g := range s.groups {
		if g.HasMember(userID) {
			g.Members = append([]string(nil), g.Members...)
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].CreatedAt.Equal(groups[j].CreatedAt) {
			return groups[i].CreatedAt.Before(groups[j].CreatedAt)
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

// Objects

func (s *Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = Object{ContentType: contentType, Data: append([]byte(nil), data...)}
	return nil
}

func (s *Store) PublicURL(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("object %s: %w", key, models.ErrNotFound)
	}
	return "memory://objects/" + key, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// Object returns a stored attachment, for inspection.
func (s *Store) Object(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.objects[key]
	return o, ok
}

// Sessions

func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl > 0 {
		s.revoked[tokenID] = s.now().Add(ttl)
	}
	return nil
}

func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

func newKey() string {
	return uuid.Must(uuid.NewV7()).String()
}
