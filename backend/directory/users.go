// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/efchatnet/efsync/backend/attachment"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
)

// SearchUsers returns the users other than participant matching term on
// email, full name, phone or pseudo.
func (d *Directory) SearchUsers(ctx context.Context, participant, term string) ([]models.User, error) {
	users, err := retry.Do(ctx, d.policy, d.store.ListUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := []models.User{}
	for _, u := range users {
		if u.ID != participant && u.Matches(term) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *Directory) Profile(ctx context.Context, userID string) (*models.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", models.ErrValidation)
	}
	u, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.User, error) {
		return d.store.GetUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load profile %s: %w", userID, err)
	}
	return u, nil
}

// ProfileUpdate holds the editable profile fields. Empty fields are left
// unchanged.
type ProfileUpdate struct {
	Email    string `json:"email"`
	Fullname string `json:"fullname"`
	Pseudo   string `json:"pseudo"`
	Phone    string `json:"phone"`
}

func (d *Directory) SaveProfile(ctx context.Context, userID string, upd ProfileUpdate) (*models.User, error) {
	if upd.Email != "" && !strings.Contains(upd.Email, "@") {
		return nil, fmt.Errorf("%w: invalid email", models.ErrValidation)
	}
	u, err := d.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&u.Email, upd.Email},
		{&u.Fullname, upd.Fullname},
		{&u.Pseudo, upd.Pseudo},
		{&u.Phone, upd.Phone},
	} {
		if v := strings.TrimSpace(f.src); v != "" {
			*f.dst = v
		}
	}

	if err := d.save(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetProfilePicture uploads f and points the profile at it.
func (d *Directory) SetProfilePicture(ctx context.Context, userID string, f attachment.File) (*models.User, error) {
	u, err := d.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	att, err := d.pictures.UploadProfilePicture(ctx, userID, f)
	if err != nil {
		return nil, err
	}
	u.Picture = att.URL
	if err := d.save(ctx, *u); err != nil {
		return nil, err
	}
	d.logger.Info("profile picture updated", "user", userID)
	return u, nil
}

func (d *Directory) save(ctx context.Context, u models.User) error {
	if err := retry.Run(ctx, d.policy, func(ctx context.Context) error {
		return d.store.SaveProfile(ctx, u)
	}); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", u.ID, err)
	}
	return nil
}
