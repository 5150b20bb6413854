// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/efchatnet/efsync/backend/chatsync"
	"github.com/efchatnet/efsync/backend/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

const (
	EventMessages = "messages"
	EventError    = "error"
)

// StreamEvent is one WebSocket frame. A "messages" event carries the full
// current view, newest first.
type StreamEvent struct {
	Type     string           `json:"type"`
	Channel  string           `json:"channel,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Streamer pushes an open view to a WebSocket client until either side
// goes away.
type Streamer struct {
	sync     *chatsync.Synchronizer
	upgrader websocket.Upgrader
	logger   *log.Logger
}

func NewStreamer(sync *chatsync.Synchronizer, checkOrigin func(*http.Request) bool, logger *log.Logger) *Streamer {
	return &Streamer{
		sync: sync,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With("component", "stream"),
	}
}

func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "channel", channel, "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := s.sync.Open(ctx, channel)
	if err != nil {
		s.logger.Warn("failed to open view", "channel", channel, "err", err)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(StreamEvent{Type: EventError, Channel: channel, Error: http.StatusText(StatusFor(err))})
		return
	}
	defer h.Close()

	go s.readPump(conn, cancel)
	s.writePump(ctx, conn, h)
}

// readPump discards client frames and cancels ctx when the client leaves.
func (s *Streamer) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) writePump(ctx context.Context, conn *websocket.Conn, h *chatsync.Handle) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	send := func() bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteJSON(StreamEvent{Type: EventMessages, Channel: h.Channel(), Messages: h.Messages()})
		return err == nil
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
			return
		case <-h.Updates():
			if !send() {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
