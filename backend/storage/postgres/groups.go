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

	"github.com/lib/pq"

	"github.com/efchatnet/efsync/backend/models"
)

const selectGroup = `
		SELECT g.group_id, g.name, g.created_by, g.channel_id, g.created_at,
		       array_agg(m.user_id ORDER BY m.member_seq)
		FROM groups g
		JOIN group_members m ON m.group_id = g.group_id`

func (s *Store) CreateGroup(ctx context.Context, group models.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serviceErr("begin create group", err)
	}
	defer tx.Rollback()

	if group.CreatedAt.IsZero() {
		group.CreatedAt = s.now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO groups (group_id, name, created_by, channel_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		group.ID, group.Name, group.CreatorID, group.ChannelID, group.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("group %s: %w", group.ID, models.ErrAlreadyExists)
		}
		return serviceErr("insert group", err)
	}

	// Creator first, then the rest in the order given.
	for _, memberID := range models.UnionMembers([]string{group.CreatorID}, group.Members...) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			group.ID, memberID, group.CreatedAt)
		if err != nil {
			return serviceErr("insert group member", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return serviceErr("commit create group", err)
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	row := s.db.QueryRowContext(ctx, selectGroup+`
		WHERE g.group_id = $1
		GROUP BY g.group_id`, groupID)

	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}
	if err != nil {
		return nil, serviceErr("get group", err)
	}
	return g, nil
}

func (s *Store) AddGroupMembers(ctx context.Context, groupID string, userIDs []string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, serviceErr("begin add members", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM groups WHERE group_id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return nil, serviceErr("check group", err)
	}
	if !exists {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrNotFound)
	}

	joinedAt := s.now()
	for _, userID := range models.UnionMembers(nil, userIDs...) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			groupID, userID, joinedAt)
		if err != nil {
			return nil, serviceErr("insert group member", err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id FROM group_members
		WHERE group_id = $1
		ORDER BY member_seq`, groupID)
	if err != nil {
		return nil, serviceErr("list group members", err)
	}
	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, serviceErr("scan group member", err)
		}
		members = append(members, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, serviceErr("list group members", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, serviceErr("commit add members", err)
	}
	return members, nil
}

// DeleteGroup removes the group and, through the foreign key, its members.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM groups
		WHERE group_id = $1`, groupID)
	if err != nil {
		return serviceErr("delete group", err)
	}
	return expectRow(res, "group "+groupID)
}

func (s *Store) ListGroupsForUser(ctx context.Context, userID string) ([]models.Group, error) {
	rows, err := s.db.QueryContext(ctx, selectGroup+`
		WHERE g.group_id IN (SELECT group_id FROM group_members WHERE user_id = $1)
		GROUP BY g.group_id
		ORDER BY g.created_at`, userID)
	if err != nil {
		return nil, serviceErr("list groups", err)
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, serviceErr("scan group", err)
		}
		groups = append(groups, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, serviceErr("list groups", err)
	}
	return groups, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*models.Group, error) {
	var g models.Group
	var members pq.StringArray
	if err := row.Scan(&g.ID, &g.Name, &g.CreatorID, &g.ChannelID, &g.CreatedAt, &members); err != nil {
		return nil, err
	}
	g.Members = []string(members)
	return &g, nil
}
