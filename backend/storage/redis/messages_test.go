// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efsync/backend/models"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb, mr
}

func TestAppendAndSnapshot(t *testing.T) {
	rdb, _ := newTestClient(t)
	s := NewMessageStore(rdb)
	ctx := context.Background()

	first, err := s.Append(ctx, "chats/u1_u2", models.Message{SenderID: "u1", Text: "hi", Timestamp: 1})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if first.Key == "" {
		t.Fatal("expected a store-assigned key")
	}
	second, err := s.Append(ctx, "chats/u1_u2", models.Message{SenderID: "u2", Text: "yo", Timestamp: 2})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if second.Key == first.Key {
		t.Fatal("keys must be unique")
	}
	if _, err := s.Append(ctx, "chats/u1_u3", models.Message{SenderID: "u3", Text: "other", Timestamp: 3}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	msgs, err := s.Snapshot(ctx, "chats/u1_u2")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Key != first.Key || msgs[1].Key != second.Key {
		t.Fatalf("unexpected snapshot: %+v", msgs)
	}
}

func TestAppendExistingKeyStoresOnce(t *testing.T) {
	rdb, mr := newTestClient(t)
	s := NewMessageStore(rdb)
	ctx := context.Background()

	msg := models.Message{Key: "0190a1b2-0000-7000-8000-000000000001", SenderID: "u1", Text: "hi", Timestamp: 1}
	first, err := s.Append(ctx, "chats/u1_u2", msg)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if first.Key != msg.Key {
		t.Fatalf("expected key %s to be kept, got %s", msg.Key, first.Key)
	}

	msg.Text = "changed"
	again, err := s.Append(ctx, "chats/u1_u2", msg)
	if err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	if again.Text != "hi" {
		t.Errorf("expected the stored message back, got %q", again.Text)
	}

	log, err := mr.List(channelLogPrefix + "chats/u1_u2")
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("expected one log entry, got %v", log)
	}
	msgs, err := s.Snapshot(ctx, "chats/u1_u2")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected one message, got %v %v", msgs, err)
	}
}

func TestAppendExistingKeyIsPublishedAgain(t *testing.T) {
	rdb, _ := newTestClient(t)
	s := NewMessageStore(rdb)
	ctx := context.Background()

	msg := models.Message{Key: "0190a1b2-0000-7000-8000-000000000002", SenderID: "u1", Text: "hi", Timestamp: 1}
	if _, err := s.Append(ctx, "groups/g1", msg); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	sub, err := s.Subscribe(ctx, "groups/g1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	if _, err := s.Append(ctx, "groups/g1", msg); err != nil {
		t.Fatalf("second append failed: %v", err)
	}
	select {
	case got := <-sub.Events():
		if got.Key != msg.Key {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSnapshotEmptyChannel(t *testing.T) {
	rdb, _ := newTestClient(t)
	msgs, err := NewMessageStore(rdb).Snapshot(context.Background(), "groups/none")
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty snapshot, got %v %v", msgs, err)
	}
}

func TestSubscribeReceivesAppends(t *testing.T) {
	rdb, _ := newTestClient(t)
	s := NewMessageStore(rdb)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "groups/g1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	sent, err := s.Append(ctx, "groups/g1", models.Message{SenderID: "u1", Text: "hello group", Timestamp: 10})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	select {
	case got := <-sub.Events():
		if got.Key != sent.Key || got.Text != "hello group" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscriptionCloseEndsEvents(t *testing.T) {
	rdb, _ := newTestClient(t)
	sub, err := NewMessageStore(rdb).Subscribe(context.Background(), "groups/g1")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	_ = sub.Close()

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel was not closed")
	}
}

func TestRevocation(t *testing.T) {
	rdb, mr := newTestClient(t)
	s := NewRevocationStore(rdb)
	ctx := context.Background()

	revoked, err := s.IsRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected not revoked, got %v %v", revoked, err)
	}
	if err := s.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if revoked, _ := s.IsRevoked(ctx, "jti-1"); !revoked {
		t.Fatal("expected revoked token")
	}

	mr.FastForward(2 * time.Minute)
	if revoked, _ := s.IsRevoked(ctx, "jti-1"); revoked {
		t.Fatal("revocation should expire with the token")
	}
}
