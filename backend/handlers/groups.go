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

package handlers

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/efchatnet/efsync/backend/chatsync"
	"github.com/efchatnet/efsync/backend/directory"
)

type GroupHandler struct {
	*messaging
	dir    *directory.Directory
	logger *log.Logger
}

func NewGroupHandler(dir *directory.Directory, sync *chatsync.Synchronizer, stream *Streamer, maxUpload int, logger *log.Logger) *GroupHandler {
	h := &GroupHandler{dir: dir, logger: logger}
	h.messaging = &messaging{
		sync:    sync,
		stream:  stream,
		resolve: h.resolve,
		maxSize: int64(maxUpload),
		logger:  logger,
	}
	return h
}

func (h *GroupHandler) resolve(ctx context.Context, r *http.Request, userID string) (string, error) {
	return h.dir.GroupChannel(ctx, mux.Vars(r)["groupId"], userID)
}

// ListGroups returns the groups the caller belongs to
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	groups, err := h.dir.ListGroups(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"groups": groups,
		"count":  len(groups),
	})
}

// CreateGroup creates a group owned by the caller
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Name    string   `json:"name"`
		Members []string `json:"members"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.dir.CreateGroup(r.Context(), req.Name, userID, req.Members)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

// GetGroup returns the group with resolved member names
func (h *GroupHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	groupID := mux.Vars(r)["groupId"]

	g, err := h.dir.Group(r.Context(), groupID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	members, err := h.dir.GroupMembers(r.Context(), groupID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"group":   g,
		"members": members,
	})
}

// AddMembers unions {"members": [...]} into the group; creator only
func (h *GroupHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Members []string `json:"members"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	g, err := h.dir.AddMembers(r.Context(), mux.Vars(r)["groupId"], req.Members, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// DeleteGroup removes the group; creator only
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.dir.DeleteGroup(r.Context(), mux.Vars(r)["groupId"], userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
