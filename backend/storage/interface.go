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

package storage

import (
	"context"
	"time"

	"github.com/efchatnet/efsync/backend/models"
)

// UserStore holds profiles and password credentials (users/{id}).
type UserStore interface {
	CreateUser(ctx context.Context, user models.User, passwordHash []byte) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetCredentials(ctx context.Context, email string) (*models.User, []byte, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SaveProfile(ctx context.Context, user models.User) error
}

type ConversationStore interface {
	// CreateConversation is a conditional write: created is false when a
	// record already exists under conv.Key.
	CreateConversation(ctx context.Context, conv models.Conversation) (created bool, err error)
	GetConversation(ctx context.Context, key string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, key string) error
	ListConversationKeys(ctx context.Context, userID string) ([]string, error)
}

type GroupStore interface {
	CreateGroup(ctx context.Context, group models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	// AddGroupMembers unions userIDs into the member set and returns the
	// resulting members in join order.
	AddGroupMembers(ctx context.Context, groupID string, userIDs []string) ([]string, error)
	DeleteGroup(ctx context.Context, groupID string) error
	ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error)
}

// Subscription delivers messages appended to a channel after it was
// established. Delivery may replay earlier messages; consumers dedupe by key.
type Subscription interface {
	Events() <-chan models.Message
	Close() error
}

type MessageStore interface {
	// Append stores msg under msg.Key, assigning a key when it is empty.
	// Appending a key the channel already holds stores nothing new, so a
	// retried append is safe.
	Append(ctx context.Context, channel string, msg models.Message) (models.Message, error)
	Snapshot(ctx context.Context, channel string) ([]models.Message, error)
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// ObjectStore is the binary attachment bucket.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	PublicURL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// RevocationStore remembers signed-out session tokens until they expire.
type RevocationStore interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// DirectoryStore is everything the relational backend provides.
type DirectoryStore interface {
	UserStore
	ConversationStore
	GroupStore
}
