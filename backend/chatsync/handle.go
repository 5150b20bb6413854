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

package chatsync

import (
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/efchatnet/efsync/backend/metrics"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/storage"
)

// Handle is an open, continuously updated view of one channel. The view is
// always ordered newest first and holds each message key at most once.
type Handle struct {
	channel string
	sub     storage.Subscription
	metrics *metrics.Metrics
	logger  *log.Logger

	mu   sync.RWMutex
	view []models.Message
	seen map[string]struct{}

	updates  chan struct{}
	done     chan struct{}
	finished chan struct{}
	closed   atomic.Bool
	once     sync.Once
}

func newHandle(channel string, sub storage.Subscription, snapshot []models.Message, m *metrics.Metrics, logger *log.Logger) *Handle {
	h := &Handle{
		channel:  channel,
		sub:      sub,
		metrics:  m,
		logger:   logger,
		seen:     make(map[string]struct{}, len(snapshot)),
		updates:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	h.view = dedupe(snapshot, h.seen)
	models.SortNewestFirst(h.view)
	return h
}

func (h *Handle) Channel() string { return h.channel }

// Messages returns a copy of the current view.
func (h *Handle) Messages() []models.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.Message(nil), h.view...)
}

// Updates signals after the view changed. Signals coalesce: a reader that
// falls behind sees one pending signal, then reads the latest view.
func (h *Handle) Updates() <-chan struct{} { return h.updates }

// Done is closed once the handle stops receiving events, either through
// Close or because the subscription ended.
func (h *Handle) Done() <-chan struct{} { return h.finished }

// Close stops delivery and waits for the event loop to exit. Events still
// in flight are discarded. Calling Close more than once is a no-op.
func (h *Handle) Close() error {
	var err error
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.done)
		err = h.sub.Close()
		<-h.finished
		h.metrics.HandleClosed()
		h.logger.Debug("view closed", "channel", h.channel)
	})
	return err
}

func (h *Handle) run() {
	defer close(h.finished)
	events := h.sub.Events()
	for {
		select {
		case <-h.done:
			return
		case msg, ok := <-events:
			if !ok {
				h.logger.Debug("subscription ended", "channel", h.channel)
				return
			}
			if h.closed.Load() {
				return
			}
			h.apply(msg)
		}
	}
}

// apply adds msg unless its key was already seen. It reports whether the
// view changed.
func (h *Handle) apply(msg models.Message) bool {
	if msg.Key == "" {
		h.logger.Warn("dropping event without key", "channel", h.channel)
		return false
	}

	h.mu.Lock()
	if _, ok := h.seen[msg.Key]; ok {
		h.mu.Unlock()
		h.metrics.EventDuplicate()
		return false
	}
	h.seen[msg.Key] = struct{}{}
	view := make([]models.Message, 0, len(h.view)+1)
	view = append(view, msg)
	view = append(view, h.view...)
	models.SortNewestFirst(view)
	h.view = view
	h.mu.Unlock()

	h.metrics.EventApplied()
	select {
	case h.updates <- struct{}{}:
	default:
	}
	return true
}

// dedupe keeps the first message for every key and records the keys in seen.
func dedupe(msgs []models.Message, seen map[string]struct{}) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Key == "" {
			continue
		}
		if _, ok := seen[m.Key]; ok {
			continue
		}
		seen[m.Key] = struct{}{}
		out = append(out, m)
	}
	return out
}
