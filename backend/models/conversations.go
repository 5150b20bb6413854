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

package models

import (
	"time"
)

// Conversation is a one-to-one channel. User1ID < User2ID always holds,
// matching the ordering used to derive Key.
type Conversation struct {
	Key       string    `json:"key" db:"conversation_key"`
	User1ID   string    `json:"user1_id" db:"user1_id"`
	User2ID   string    `json:"user2_id" db:"user2_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Peer returns the participant on the other side of userID.
func (c Conversation) Peer(userID string) string {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Channel is where the conversation's messages live.
func (c Conversation) Channel() string {
	return ConversationChannel(c.Key)
}

// Partition splits the known users by whether they already share a
// conversation with the current participant.
type Partition struct {
	WithChats    []User `json:"users_with_chats"`
	WithoutChats []User `json:"users_without_chats"`
}
