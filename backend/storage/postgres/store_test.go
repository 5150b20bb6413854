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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/efchatnet/efsync/backend/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	s.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, mock
}

func TestCreateConversationIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	conv := models.Conversation{Key: "u1_u2", User1ID: "u1", User2ID: "u2"}

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("u1_u2", "u1", "u2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("u1_u2", "u1", "u2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.CreateConversation(context.Background(), conv)
	if err != nil || !created {
		t.Fatalf("expected first create to succeed, got created=%v err=%v", created, err)
	}
	created, err = s.CreateConversation(context.Background(), conv)
	if err != nil || created {
		t.Fatalf("expected second create to be a no-op, got created=%v err=%v", created, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteConversationMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM conversations").
		WithArgs("u1_u2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteConversation(context.Background(), "u1_u2")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversationKeys(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT conversation_key").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_key"}).AddRow("u1_u2").AddRow("u0_u1"))

	keys, err := s.ListConversationKeys(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keys) != 2 || keys[0] != "u1_u2" || keys[1] != "u0_u1" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT user_id, email").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetUser(context.Background(), "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&pq.Error{Code: uniqueViolation})
	mock.ExpectRollback()

	err := s.CreateUser(context.Background(), models.User{ID: "u1", Email: "a@b.c"}, []byte("hash"))
	if !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateGroupInsertsCreatorFirst(t *testing.T) {
	s, mock := newMockStore(t)
	group := models.Group{ID: "g1", Name: "team", CreatorID: "u1", ChannelID: "groups/g1", Members: []string{"u1", "u2", "u3"}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO groups").
		WithArgs("g1", "team", "u1", "groups/g1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, id := range []string{"u1", "u2", "u3"} {
		mock.ExpectExec("INSERT INTO group_members").
			WithArgs("g1", id, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	if err := s.CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetGroupScansMembers(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT g.group_id").
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"group_id", "name", "created_by", "channel_id", "created_at", "members"}).
			AddRow("g1", "team", "u1", "groups/g1", created, "{u1,u2}"))

	g, err := s.GetGroup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.CreatorID != "u1" || len(g.Members) != 2 || g.Members[1] != "u2" {
		t.Fatalf("unexpected group: %+v", g)
	}
}

func TestAddGroupMembersUnknownGroup(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("g404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := s.AddGroupMembers(context.Background(), "g404", []string{"u9"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestAddGroupMembersSkipsDuplicatesInRequest(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO group_members").
		WithArgs("g1", "u3", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM group_members").
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1").AddRow("u2").AddRow("u3"))
	mock.ExpectCommit()

	members, err := s.AddGroupMembers(context.Background(), "g1", []string{"u3", "u3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("unexpected members: %v", members)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
