// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/efchatnet/efsync/backend/models"
)

func TestCreateConversationIsConditional(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv := models.Conversation{Key: "a_b", User1ID: "a", User2ID: "b"}

	created, err := s.CreateConversation(ctx, conv)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	created, err = s.CreateConversation(ctx, conv)
	if err != nil || created {
		t.Fatalf("second create: created=%v err=%v", created, err)
	}
}

func TestAppendDeliversToSubscribers(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "chats/a_b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	stored, err := s.Append(ctx, "chats/a_b", models.Message{SenderID: "a", Text: "hi", Timestamp: 1})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if stored.Key == "" {
		t.Fatal("expected key to be assigned")
	}

	select {
	case got := <-sub.Events():
		if got.Key != stored.Key {
			t.Errorf("expected %s, got %s", stored.Key, got.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestAppendExistingKeyStoresOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	msg := models.Message{Key: "k1", SenderID: "a", Text: "hi", Timestamp: 1}
	if _, err := s.Append(ctx, "chats/a_b", msg); err != nil {
		t.Fatalf("append: %v", err)
	}
	msg.Text = "changed"
	again, err := s.Append(ctx, "chats/a_b", msg)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if again.Text != "hi" {
		t.Errorf("expected stored message back, got %q", again.Text)
	}
	msgs, _ := s.Snapshot(ctx, "chats/a_b")
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
}

func TestSlowSubscriberMissesNothing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "chats/a_b")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	total := subscriptionBuffer * 2
	for i := 0; i < total; i++ {
		if _, err := s.Append(ctx, "chats/a_b", models.Message{SenderID: "a", Text: "m", Timestamp: int64(i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	for i := 0; i < total; i++ {
		select {
		case got := <-sub.Events():
			if got.Timestamp != int64(i) {
				t.Fatalf("event %d: got timestamp %d", i, got.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatalf("only %d of %d events delivered", i, total)
		}
	}
}

func TestReplayOnSubscribe(t *testing.T) {
	s := NewStore()
	s.ReplayOnSubscribe = true
	ctx := context.Background()

	first, _ := s.Append(ctx, "groups/g1", models.Message{SenderID: "a", Text: "one", Timestamp: 1})

	sub, err := s.Subscribe(ctx, "groups/g1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	got := <-sub.Events()
	if got.Key != first.Key {
		t.Errorf("expected replay of %s, got %s", first.Key, got.Key)
	}
}

func TestCloseUnregisters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	sub, _ := s.Subscribe(ctx, "chats/a_b")
	if n := s.Subscribers("chats/a_b"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	sub.Close()
	sub.Close()
	if n := s.Subscribers("chats/a_b"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
	if _, ok := <-sub.Events(); ok {
		t.Error("expected closed events channel")
	}
	if _, err := s.Append(ctx, "chats/a_b", models.Message{SenderID: "a", Text: "x"}); err != nil {
		t.Fatalf("append after close: %v", err)
	}
}

func TestAddGroupMembersUnion(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if err := s.CreateGroup(ctx, models.Group{ID: "g1", Name: "g", CreatorID: "a", Members: []string{"b"}}); err != nil {
		t.Fatalf("create group: %v", err)
	}
	members, err := s.AddGroupMembers(ctx, "g1", []string{"b", "c", "c"})
	if err != nil {
		t.Fatalf("add members: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(members) != len(want) {
		t.Fatalf("expected %v, got %v", want, members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, members)
		}
	}

	if _, err := s.AddGroupMembers(ctx, "missing", []string{"x"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevocationExpires(t *testing.T) {
	s := NewStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Revoke(ctx, "jti-1", time.Minute)
	if revoked, _ := s.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("expected token to be revoked")
	}
	now = now.Add(2 * time.Minute)
	if revoked, _ := s.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatal("expected revocation to expire")
	}
}
