// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package attachment

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage/memory"
)

type countingStore struct {
	puts    int
	removed []string
	putErr  error
	urlErr  error
	lastKey string
	lastCT  string
}

func (s *countingStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	s.puts++
	s.lastKey = key
	s.lastCT = contentType
	return s.putErr
}

func (s *countingStore) PublicURL(ctx context.Context, key string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://cdn.example.com/" + key, nil
}

func (s *countingStore) Remove(ctx context.Context, key string) error {
	s.removed = append(s.removed, key)
	return nil
}

func testPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, Timeout: time.Second, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func newTestUploader(store *countingStore) *Uploader {
	u := NewUploader(store, testPolicy(), log.New(io.Discard))
	u.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return u
}

func TestContentType(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"photo.jpg", "image/jpeg", true},
		{"photo.JPEG", "image/jpeg", true},
		{"shot.png", "image/png", true},
		{"notes.txt", "", false},
		{"noext", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ContentType(tt.name)
			if got != tt.want || ok != tt.ok {
				t.Errorf("ContentType(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestUploadStoresImage(t *testing.T) {
	store := &countingStore{}
	u := newTestUploader(store)

	att, err := u.Upload(context.Background(), File{Name: "cat.png", Data: []byte{0x89, 'P', 'N', 'G'}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.lastKey != "images/1700000000000_cat.png" {
		t.Errorf("unexpected object key %s", store.lastKey)
	}
	if store.lastCT != "image/png" {
		t.Errorf("unexpected content type %s", store.lastCT)
	}
	if att.Kind != models.AttachmentKindImage || !strings.HasSuffix(att.URL, store.lastKey) {
		t.Errorf("unexpected attachment %+v", att)
	}
}

func TestUploadRejectsUnsupportedTypeBeforeStoring(t *testing.T) {
	store := &countingStore{}
	u := newTestUploader(store)

	_, err := u.Upload(context.Background(), File{Name: "notes.txt", Data: []byte("hello")})
	if !errors.Is(err, models.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if store.puts != 0 {
		t.Errorf("expected no store calls, got %d", store.puts)
	}
}

func TestUploadWrapsStoreFailures(t *testing.T) {
	store := &countingStore{putErr: errors.New("bucket unavailable")}
	u := newTestUploader(store)

	_, err := u.Upload(context.Background(), File{Name: "cat.jpg", Data: []byte("x")})
	if !errors.Is(err, models.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if store.puts != 2 {
		t.Errorf("expected put to be retried, got %d calls", store.puts)
	}

	store = &countingStore{urlErr: errors.New("presign failed")}
	u = newTestUploader(store)
	if _, err := u.Upload(context.Background(), File{Name: "cat.jpg", Data: []byte("x")}); !errors.Is(err, models.ErrUpload) {
		t.Fatalf("expected ErrUpload for url failure, got %v", err)
	}
	if len(store.removed) != 1 || store.removed[0] != store.lastKey {
		t.Errorf("expected stored object to be removed, got %v", store.removed)
	}
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	store := &countingStore{}
	u := NewUploader(store, testPolicy(), log.New(io.Discard), WithMaxSize(4))

	_, err := u.Upload(context.Background(), File{Name: "big.png", Data: make([]byte, 5)})
	if !errors.Is(err, models.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if store.puts != 0 {
		t.Errorf("expected no store calls, got %d", store.puts)
	}
}

func TestUploadProfilePicture(t *testing.T) {
	store := memory.NewStore()
	u := NewUploader(store, testPolicy(), log.New(io.Discard))

	att, err := u.UploadProfilePicture(context.Background(), "u1", File{Name: "me.jpeg", Data: []byte("jpeg")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := store.Object("profiles/u1_me.jpeg")
	if !ok {
		t.Fatal("expected object under profiles/u1_me.jpeg")
	}
	if obj.ContentType != "image/jpeg" {
		t.Errorf("unexpected content type %s", obj.ContentType)
	}
	if att.URL == "" {
		t.Error("expected public url")
	}
}
