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

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/efchatnet/efsync/backend/models"
)

// CreateConversation relies on the primary key on conversation_key so two
// participants starting the same chat at once produce a single record.
func (s *Store) CreateConversation(ctx context.Context, conv models.Conversation) (bool, error) {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (conversation_key, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_key) DO NOTHING`,
		conv.Key, conv.User1ID, conv.User2ID, conv.CreatedAt)
	if err != nil {
		return false, serviceErr("create conversation", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, serviceErr("read affected rows", err)
	}
	return n == 1, nil
}

func (s *Store) GetConversation(ctx context.Context, key string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_key, user1_id, user2_id, created_at
		FROM conversations
		WHERE conversation_key = $1`, key).Scan(
		&c.Key, &c.User1ID, &c.User2ID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, serviceErr("get conversation", err)
	}
	return &c, nil
}

// DeleteConversation drops the record only; the message log is kept.
func (s *Store) DeleteConversation(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations
		WHERE conversation_key = $1`, key)
	if err != nil {
		return serviceErr("delete conversation", err)
	}
	return expectRow(res, "conversation "+key)
}

func (s *Store) ListConversationKeys(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_key
		FROM conversations
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, serviceErr("list conversations", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, serviceErr("scan conversation", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, serviceErr("list conversations", err)
	}
	return keys, nil
}
