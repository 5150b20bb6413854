// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/efchatnet/efsync/backend/attachment"
	"github.com/efchatnet/efsync/backend/chatsync"
	"github.com/efchatnet/efsync/backend/models"
)

// channelResolver authorizes the caller for the channel named by the
// request's route variables.
type channelResolver func(ctx context.Context, r *http.Request, userID string) (string, error)

// messaging serves the message endpoints shared by conversations and groups.
type messaging struct {
	sync    *chatsync.Synchronizer
	stream  *Streamer
	resolve channelResolver
	maxSize int64
	logger  *log.Logger
}

func (m *messaging) channel(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return "", "", false
	}
	channel, err := m.resolve(r.Context(), r, userID)
	if err != nil {
		writeError(w, m.logger, err)
		return "", "", false
	}
	return userID, channel, true
}

// History returns the channel's messages newest first
func (m *messaging) History(w http.ResponseWriter, r *http.Request) {
	_, channel, ok := m.channel(w, r)
	if !ok {
		return
	}

	msgs, err := m.sync.History(r.Context(), channel)
	if err != nil {
		writeError(w, m.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// Send appends a message. The body is JSON {"text": ...} or a multipart
// form with a "text" field and an optional "file".
func (m *messaging) Send(w http.ResponseWriter, r *http.Request) {
	userID, channel, ok := m.channel(w, r)
	if !ok {
		return
	}

	req := chatsync.SendRequest{Channel: channel, SenderID: userID}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		f, err := readUpload(w, r, m.maxSize)
		if err != nil {
			writeError(w, m.logger, err)
			return
		}
		req.Text = r.FormValue("text")
		req.File = f
	} else {
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, m.logger, err)
			return
		}
		req.Text = body.Text
	}

	msg, err := m.sync.Send(r.Context(), req)
	if err != nil {
		writeError(w, m.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// SendLocation shares a map link for {"latitude": ..., "longitude": ...}
func (m *messaging) SendLocation(w http.ResponseWriter, r *http.Request) {
	userID, channel, ok := m.channel(w, r)
	if !ok {
		return
	}

	var body struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, m.logger, err)
		return
	}
	if body.Latitude == nil || body.Longitude == nil {
		writeError(w, m.logger, fmt.Errorf("%w: latitude and longitude are required", models.ErrValidation))
		return
	}

	msg, err := m.sync.SendLocation(r.Context(), channel, userID, *body.Latitude, *body.Longitude)
	if err != nil {
		writeError(w, m.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Stream upgrades to a WebSocket carrying the live view of the channel
func (m *messaging) Stream(w http.ResponseWriter, r *http.Request) {
	_, channel, ok := m.channel(w, r)
	if !ok {
		return
	}
	m.stream.Serve(w, r, channel)
}

// readUpload returns the multipart "file" part, or nil when there is none.
func readUpload(w http.ResponseWriter, r *http.Request, maxSize int64) (*attachment.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("%w: file too large", models.ErrUpload)
		}
		return nil, fmt.Errorf("%w: invalid multipart form", models.ErrValidation)
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid file part", models.ErrValidation)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read file: %v", models.ErrUpload, err)
	}
	return &attachment.File{Name: header.Filename, Data: data}, nil
}
