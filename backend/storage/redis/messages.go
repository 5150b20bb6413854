// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/storage"
)

const (
	// Redis key prefixes
	channelLogPrefix    = "chan:log:"    // chan:log:{channel} - list of message keys in append order
	channelMsgPrefix    = "chan:msg:"    // chan:msg:{channel} - hash of message key -> JSON
	channelNotifyPrefix = "chan:notify:" // chan:notify:{channel} - pub/sub for appended messages

	subscriptionBuffer = 64
)

// MessageStore keeps each channel's messages in Redis and announces appends
// over pub/sub.
type MessageStore struct {
	rdb *redis.Client
}

func NewMessageStore(rdb *redis.Client) *MessageStore {
	return &MessageStore{rdb: rdb}
}

// appendScript adds the body and the log entry only when the channel does
// not hold the key yet. Returns 1 when the message was added.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// Append stores the message under its key, assigning a time-ordered key when
// it has none, and publishes it. Appending a key that is already stored
// writes nothing and publishes the stored message again.
func (s *MessageStore) Append(ctx context.Context, channel string, msg models.Message) (models.Message, error) {
	if msg.Key == "" {
		key, err := uuid.NewV7()
		if err != nil {
			return models.Message{}, fmt.Errorf("failed to generate message key: %w: %v", models.ErrService, err)
		}
		msg.Key = key.String()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to marshal message: %w: %v", models.ErrService, err)
	}

	added, err := appendScript.Run(ctx, s.rdb,
		[]string{channelMsgPrefix + channel, channelLogPrefix + channel}, msg.Key, data).Int()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to store message: %w: %v", models.ErrService, err)
	}
	if added == 0 {
		raw, err := s.rdb.HGet(ctx, channelMsgPrefix+channel, msg.Key).Bytes()
		if err != nil {
			return models.Message{}, fmt.Errorf("failed to load message %s: %w: %v", msg.Key, models.ErrService, err)
		}
		var stored models.Message
		if err := json.Unmarshal(raw, &stored); err != nil {
			return models.Message{}, fmt.Errorf("failed to unmarshal message %s: %w: %v", msg.Key, models.ErrService, err)
		}
		msg, data = stored, raw
	}

	// Open views only learn about the message through this notification.
	if err := s.rdb.Publish(ctx, channelNotifyPrefix+channel, data).Err(); err != nil {
		return msg, fmt.Errorf("failed to notify %s: %w: %v", channel, models.ErrService, err)
	}

	return msg, nil
}

// Snapshot returns every message of the channel in append order.
func (s *MessageStore) Snapshot(ctx context.Context, channel string) ([]models.Message, error) {
	keys, err := s.rdb.LRange(ctx, channelLogPrefix+channel, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get message log: %w: %v", models.ErrService, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.rdb.HMGet(ctx, channelMsgPrefix+channel, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w: %v", models.ErrService, err)
	}

	msgs := make([]models.Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // Missing body, log entry without a message
		}
		var msg models.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue // Skip malformed messages
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Subscribe returns once Redis has confirmed the subscription, so nothing
// appended afterwards can be missed.
func (s *MessageStore) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	ps := s.rdb.Subscribe(ctx, channelNotifyPrefix+channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w: %v", channel, models.ErrService, err)
	}

	sub := &subscription{
		ps:     ps,
		events: make(chan models.Message, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.run(ps.Channel())
	return sub, nil
}

type subscription struct {
	ps        *redis.PubSub
	events    chan models.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan models.Message {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *subscription) run(in <-chan *redis.Message) {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			var msg models.Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil || msg.Key == "" {
				continue
			}
			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		}
	}
}
