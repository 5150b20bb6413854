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

// DMHandler serves one-to-one conversations, addressed by the peer's id.
type DMHandler struct {
	*messaging
	dir    *directory.Directory
	logger *log.Logger
}

func NewDMHandler(dir *directory.Directory, sync *chatsync.Synchronizer, stream *Streamer, maxUpload int, logger *log.Logger) *DMHandler {
	h := &DMHandler{dir: dir, logger: logger}
	h.messaging = &messaging{
		sync:    sync,
		stream:  stream,
		resolve: h.resolve,
		maxSize: int64(maxUpload),
		logger:  logger,
	}
	return h
}

func (h *DMHandler) resolve(ctx context.Context, r *http.Request, userID string) (string, error) {
	return h.dir.ConversationChannel(ctx, userID, mux.Vars(r)["peerId"])
}

// ListConversations splits the other users by whether a conversation exists
func (h *DMHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	p, err := h.dir.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// StartConversation creates the conversation with {"peer_id": ...}
func (h *DMHandler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conv, err := h.dir.StartConversation(r.Context(), userID, req.PeerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// DeleteConversation removes the conversation record, keeping its messages
func (h *DMHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.dir.DeleteConversation(r.Context(), userID, mux.Vars(r)["peerId"]); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
