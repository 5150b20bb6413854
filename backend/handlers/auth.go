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

	"github.com/efchatnet/efsync/backend/identity"
	"github.com/efchatnet/efsync/backend/middleware"
)

type AuthHandler struct {
	identity *identity.Service
	logger   *log.Logger
}

func NewAuthHandler(identity *identity.Service, logger *log.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, logger: logger}
}

// SignUp creates an account and returns a session
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req identity.SignUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	session, err := h.identity.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// SignIn exchanges credentials for a session
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	session, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// SignOut revokes the session used to make the request
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.GetToken(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.identity.SignOut(r.Context(), token); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
