// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package memory

import (
	"context"
	"sync"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/storage"
)

func (s *Store) Append(ctx context.Context, channel string, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Key == "" {
		msg.Key = newKey()
	}
	for _, stored := range s.messages[channel] {
		if stored.Key == msg.Key {
			return stored, nil
		}
	}
	s.messages[channel] = append(s.messages[channel], msg)
	for sub := range s.subscribers[channel] {
		sub.deliver(msg)
	}
	return msg, nil
}

func (s *Store) Snapshot(ctx context.Context, channel string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.Message(nil), s.messages[channel]...), nil
}

func (s *Store) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{
		store:   s,
		channel: channel,
		events:  make(chan models.Message, subscriptionBuffer),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go sub.run()
	if s.subscribers[channel] == nil {
		s.subscribers[channel] = make(map[*subscription]struct{})
	}
	s.subscribers[channel][sub] = struct{}{}

	if s.ReplayOnSubscribe {
		for _, msg := range s.messages[channel] {
			sub.deliver(msg)
		}
	}
	return sub, nil
}

// Subscribers reports how many live subscriptions a channel has.
func (s *Store) Subscribers(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers[channel])
}

type subscription struct {
	store   *Store
	channel string
	events  chan models.Message
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  bool             // guarded by store.mu
	pending []models.Message // guarded by store.mu
}

func (s *subscription) Events() <-chan models.Message {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subscribers[s.channel], s)
		s.closed = true
		s.pending = nil
		s.store.mu.Unlock()
		close(s.done)
	})
	return nil
}

// deliver runs under store.mu. It only queues the message, so a slow
// reader never blocks Append and never loses an event.
func (s *subscription) deliver(msg models.Message) {
	if s.closed {
		return
	}
	s.pending = append(s.pending, msg)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run moves queued messages to events until the subscription is closed.
func (s *subscription) run() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.store.mu.Lock()
			if len(s.pending) == 0 {
				s.store.mu.Unlock()
				break
			}
			msg := s.pending[0]
			s.pending = s.pending[1:]
			s.store.mu.Unlock()

			select {
			case s.events <- msg:
			case <-s.done:
				return
			}
		}
	}
}
