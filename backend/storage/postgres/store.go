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
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/efsync/backend/models"
)

const uniqueViolation = "23505"

// Store keeps the directory (users, conversations, groups) in Postgres.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateUser(ctx context.Context, user models.User, passwordHash []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serviceErr("begin create user", err)
	}
	defer tx.Rollback()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (user_id, email, fullname, pseudo, phone, picture, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.Fullname, user.Pseudo, user.Phone, user.Picture, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", user.Email, models.ErrAlreadyExists)
		}
		return serviceErr("insert user", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, updated_at)
		VALUES ($1, $2, $3)`,
		user.ID, passwordHash, user.CreatedAt)
	if err != nil {
		return serviceErr("insert credentials", err)
	}

	if err := tx.Commit(); err != nil {
		return serviceErr("commit create user", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, fullname, pseudo, phone, picture, created_at
		FROM users
		WHERE user_id = $1`, userID).Scan(
		&u.ID, &u.Email, &u.Fullname, &u.Pseudo, &u.Phone, &u.Picture, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, serviceErr("get user", err)
	}
	return &u, nil
}

func (s *Store) GetCredentials(ctx context.Context, email string) (*models.User, []byte, error) {
	var u models.User
	var hash []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.email, u.fullname, u.pseudo, u.phone, u.picture, u.created_at, c.password_hash
		FROM users u
		JOIN credentials c ON c.user_id = u.user_id
		WHERE lower(u.email) = lower($1)`, email).Scan(
		&u.ID, &u.Email, &u.Fullname, &u.Pseudo, &u.Phone, &u.Picture, &u.CreatedAt, &hash)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("credentials for %s: %w", email, models.ErrNotFound)
	}
	if err != nil {
		return nil, nil, serviceErr("get credentials", err)
	}
	return &u, hash, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, email, fullname, pseudo, phone, picture, created_at
		FROM users
		ORDER BY fullname, user_id`)
	if err != nil {
		return nil, serviceErr("list users", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Fullname, &u.Pseudo, &u.Phone, &u.Picture, &u.CreatedAt); err != nil {
			return nil, serviceErr("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, serviceErr("list users", err)
	}
	return users, nil
}

func (s *Store) SaveProfile(ctx context.Context, user models.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, fullname = $3, pseudo = $4, phone = $5, picture = $6
		WHERE user_id = $1`,
		user.ID, user.Email, user.Fullname, user.Pseudo, user.Phone, user.Picture)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email %s: %w", user.Email, models.ErrAlreadyExists)
		}
		return serviceErr("save profile", err)
	}
	return expectRow(res, "user "+user.ID)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func serviceErr(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %v", op, models.ErrService, err)
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return serviceErr("read affected rows", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
