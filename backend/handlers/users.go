// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package handlers

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/efchatnet/efsync/backend/directory"
)

type UserHandler struct {
	dir     *directory.Directory
	maxSize int64
	logger  *log.Logger
}

func NewUserHandler(dir *directory.Directory, maxUpload int, logger *log.Logger) *UserHandler {
	return &UserHandler{dir: dir, maxSize: int64(maxUpload), logger: logger}
}

// SearchUsers lists other users matching ?q=
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	users, err := h.dir.SearchUsers(r.Context(), userID, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// GetProfile returns the caller's profile
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	u, err := h.dir.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SaveProfile updates the caller's editable profile fields
func (h *UserHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var upd directory.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, h.logger, err)
		return
	}

	u, err := h.dir.SaveProfile(r.Context(), userID, upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// SetProfilePicture accepts a multipart "file" and makes it the caller's picture
func (h *UserHandler) SetProfilePicture(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	f, err := readUpload(w, r, h.maxSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if f == nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}

	u, err := h.dir.SetProfilePicture(r.Context(), userID, *f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
