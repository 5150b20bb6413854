// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"strings"
	"time"
)

// User is a participant profile. ID is issued by the identity service.
type User struct {
	ID        string    `json:"id" db:"user_id"`
	Email     string    `json:"email" db:"email"`
	Fullname  string    `json:"fullname" db:"fullname"`
	Pseudo    string    `json:"pseudo" db:"pseudo"`
	Phone     string    `json:"phone" db:"phone"`
	Picture   string    `json:"picture,omitempty" db:"picture"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DisplayName prefers the full name, then the pseudo.
func (u User) DisplayName() string {
	if u.Fullname != "" {
		return u.Fullname
	}
	if u.Pseudo != "" {
		return u.Pseudo
	}
	return UnknownMemberName
}

// Matches reports a case-insensitive substring hit on any searchable field.
func (u User) Matches(term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	for _, field := range []string{u.Email, u.Fullname, u.Phone, u.Pseudo} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}
