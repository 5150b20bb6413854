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

import "context"

func (s *Store) Migrate(ctx context.Context) error {
	migrations := []string{
		// Participant profiles
		`CREATE TABLE IF NOT EXISTS users (
			user_id VARCHAR(255) PRIMARY KEY,
			email VARCHAR(320) NOT NULL,
			fullname VARCHAR(255) NOT NULL DEFAULT '',
			pseudo VARCHAR(255) NOT NULL DEFAULT '',
			phone VARCHAR(64) NOT NULL DEFAULT '',
			picture TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users (lower(email))`,

		// Password hashes live apart from the profile
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id VARCHAR(255) PRIMARY KEY,
			password_hash BYTEA NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
		)`,

		// One-to-one conversations (exactly 2 members, key = sorted pair)
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_key VARCHAR(520) PRIMARY KEY,
			user1_id VARCHAR(255) NOT NULL,
			user2_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT unique_conversation_pair UNIQUE (user1_id, user2_id),
			CONSTRAINT ordered_users CHECK (user1_id < user2_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_user1
		ON conversations(user1_id)`,

		`CREATE INDEX IF NOT EXISTS idx_conversations_user2
		ON conversations(user2_id)`,

		// Groups
		`CREATE TABLE IF NOT EXISTS groups (
			group_id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			created_by VARCHAR(255) NOT NULL,
			channel_id VARCHAR(300) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// Group members; member_seq keeps join order
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			member_seq BIGSERIAL,
			joined_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES groups(group_id) ON DELETE CASCADE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members(user_id, group_id)`,

		// Note: messages are stored in Redis
		// No PostgreSQL tables needed for messages
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return serviceErr("run migration", err)
		}
	}

	return nil
}
