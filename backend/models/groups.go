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

const UnknownMemberName = "Unknown"

// Group is a many-to-many channel. CreatorID is always Members[0].
type Group struct {
	ID        string    `json:"id" db:"group_id"`
	Name      string    `json:"name" db:"name"`
	Members   []string  `json:"members"`
	CreatorID string    `json:"group_creator" db:"created_by"`
	ChannelID string    `json:"chat_id" db:"channel_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (g Group) HasMember(userID string) bool {
	for _, m := range g.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// Member is a group member with a display name resolved from profiles.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UnionMembers appends the ids in add that are not already in members,
// keeping first-seen order and skipping blanks.
func UnionMembers(members []string, add ...string) []string {
	seen := make(map[string]bool, len(members)+len(add))
	out := make([]string, 0, len(members)+len(add))
	for _, list := range [][]string{members, add} {
		for _, id := range list {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
