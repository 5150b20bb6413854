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

// Package directory manages who can talk to whom: user profiles, one-to-one
// conversations and groups.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/efchatnet/efsync/backend/attachment"
	"github.com/efchatnet/efsync/backend/chatkey"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage"
)

// PictureUploader stores profile pictures.
type PictureUploader interface {
	UploadProfilePicture(ctx context.Context, userID string, f attachment.File) (models.Attachment, error)
}

type Directory struct {
	store    storage.DirectoryStore
	pictures PictureUploader
	policy   retry.Policy
	logger   *log.Logger
	newID    func() string
	now      func() time.Time
}

func New(store storage.DirectoryStore, pictures PictureUploader, policy retry.Policy, logger *log.Logger) *Directory {
	return &Directory{
		store:    store,
		pictures: pictures,
		policy:   policy,
		logger:   logger.With("component", "directory"),
		newID:    uuid.NewString,
		now:      time.Now,
	}
}

// ListConversations partitions every other known user by whether a
// conversation with participant exists.
func (d *Directory) ListConversations(ctx context.Context, participant string) (models.Partition, error) {
	if participant == "" {
		return models.Partition{}, fmt.Errorf("%w: missing participant", models.ErrValidation)
	}

	users, err := retry.Do(ctx, d.policy, d.store.ListUsers)
	if err != nil {
		return models.Partition{}, fmt.Errorf("failed to list users: %w", err)
	}
	keys, err := retry.Do(ctx, d.policy, func(ctx context.Context) ([]string, error) {
		return d.store.ListConversationKeys(ctx, participant)
	})
	if err != nil {
		return models.Partition{}, fmt.Errorf("failed to list conversations: %w", err)
	}

	existing := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		existing[k] = struct{}{}
	}

	p := models.Partition{WithChats: []models.User{}, WithoutChats: []models.User{}}
	for _, u := range users {
		if u.ID == participant {
			continue
		}
		if _, ok := existing[chatkey.Derive(participant, u.ID)]; ok {
			p.WithChats = append(p.WithChats, u)
		} else {
			p.WithoutChats = append(p.WithoutChats, u)
		}
	}
	return p, nil
}

// StartConversation creates the conversation between participant and
// other. The create is a conditional write, so of two concurrent starts
// exactly one succeeds and the other sees ErrAlreadyExists.
func (d *Directory) StartConversation(ctx context.Context, participant, other string) (*models.Conversation, error) {
	if err := validatePair(participant, other); err != nil {
		return nil, err
	}

	key := chatkey.Derive(participant, other)

	// An existing conversation wins over a missing peer, so a chat with a
	// since-deleted user still reports ErrAlreadyExists.
	_, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Conversation, error) {
		return d.store.GetConversation(ctx, key)
	})
	if err == nil {
		return nil, fmt.Errorf("conversation %s: %w", key, models.ErrAlreadyExists)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up conversation %s: %w", key, err)
	}

	if _, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.User, error) {
		return d.store.GetUser(ctx, other)
	}); err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", other, err)
	}

	u1, u2 := chatkey.Order(participant, other)
	conv := models.Conversation{
		Key:       key,
		User1ID:   u1,
		User2ID:   u2,
		CreatedAt: d.now().UTC().Truncate(time.Microsecond),
	}
	attempts := 0
	created, err := retry.Do(ctx, d.policy, func(ctx context.Context) (bool, error) {
		attempts++
		return d.store.CreateConversation(ctx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation %s: %w", conv.Key, err)
	}
	if !created && attempts > 1 {
		// An earlier attempt may have committed before its reply was lost.
		// The record is ours when it carries our creation time.
		created = d.createdByUs(ctx, conv)
	}
	if !created {
		return nil, fmt.Errorf("conversation %s: %w", conv.Key, models.ErrAlreadyExists)
	}

	d.logger.Info("conversation started", "key", conv.Key)
	return d.conversation(ctx, conv)
}

func (d *Directory) createdByUs(ctx context.Context, conv models.Conversation) bool {
	stored, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Conversation, error) {
		return d.store.GetConversation(ctx, conv.Key)
	})
	if err != nil {
		d.logger.Warn("failed to check conversation after retry", "key", conv.Key, "err", err)
		return false
	}
	return stored.CreatedAt.Equal(conv.CreatedAt)
}

func (d *Directory) conversation(ctx context.Context, fallback models.Conversation) (*models.Conversation, error) {
	conv, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Conversation, error) {
		return d.store.GetConversation(ctx, fallback.Key)
	})
	if err != nil {
		d.logger.Warn("failed to reload conversation", "key", fallback.Key, "err", err)
		return &fallback, nil
	}
	return conv, nil
}

// DeleteConversation removes the conversation record. Its messages stay in
// the message store.
func (d *Directory) DeleteConversation(ctx context.Context, participant, other string) error {
	if err := validatePair(participant, other); err != nil {
		return err
	}
	key := chatkey.Derive(participant, other)
	if err := retry.Run(ctx, d.policy, func(ctx context.Context) error {
		return d.store.DeleteConversation(ctx, key)
	}); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", key, err)
	}
	d.logger.Info("conversation deleted", "key", key)
	return nil
}

// ConversationChannel returns the message channel shared by participant
// and peer once their conversation exists.
func (d *Directory) ConversationChannel(ctx context.Context, participant, peer string) (string, error) {
	if err := validatePair(participant, peer); err != nil {
		return "", err
	}
	key := chatkey.Derive(participant, peer)
	conv, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Conversation, error) {
		return d.store.GetConversation(ctx, key)
	})
	if err != nil {
		return "", fmt.Errorf("failed to load conversation %s: %w", key, err)
	}
	return conv.Channel(), nil
}

func validatePair(participant, other string) error {
	if strings.TrimSpace(participant) == "" || strings.TrimSpace(other) == "" {
		return fmt.Errorf("%w: both participants are required", models.ErrValidation)
	}
	if participant == other {
		return fmt.Errorf("%w: cannot start a conversation with yourself", models.ErrValidation)
	}
	if strings.Contains(participant, chatkey.Separator) || strings.Contains(other, chatkey.Separator) {
		return fmt.Errorf("%w: invalid participant id", models.ErrValidation)
	}
	return nil
}
