// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
)

// CreateGroup stores a new group whose members are the creator followed by
// members, without duplicates.
func (d *Directory) CreateGroup(ctx context.Context, name, creator string, members []string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: group name is required", models.ErrValidation)
	}
	if creator == "" {
		return nil, fmt.Errorf("%w: group creator is required", models.ErrValidation)
	}
	if len(models.UnionMembers(nil, members...)) == 0 {
		return nil, fmt.Errorf("%w: group needs at least one member", models.ErrValidation)
	}

	id := d.newID()
	g := models.Group{
		ID:        id,
		Name:      name,
		Members:   models.UnionMembers([]string{creator}, members...),
		CreatorID: creator,
		ChannelID: models.GroupChannel(id),
	}
	if err := retry.Run(ctx, d.policy, func(ctx context.Context) error {
		return d.store.CreateGroup(ctx, g)
	}); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	d.logger.Info("group created", "group", id, "creator", creator, "members", len(g.Members))
	return d.reload(ctx, g), nil
}

// AddMembers unions newMembers into the group. Only the creator may do this.
func (d *Directory) AddMembers(ctx context.Context, groupID string, newMembers []string, requester string) (*models.Group, error) {
	if len(models.UnionMembers(nil, newMembers...)) == 0 {
		return nil, fmt.Errorf("%w: no members to add", models.ErrValidation)
	}

	g, err := d.ownedGroup(ctx, groupID, requester)
	if err != nil {
		return nil, err
	}

	members, err := retry.Do(ctx, d.policy, func(ctx context.Context) ([]string, error) {
		return d.store.AddGroupMembers(ctx, groupID, newMembers)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add members to group %s: %w", groupID, err)
	}
	g.Members = members

	d.logger.Info("group members added", "group", groupID, "members", len(members))
	return g, nil
}

// DeleteGroup removes the group record. Only the creator may do this; the
// group's messages stay in the message store.
func (d *Directory) DeleteGroup(ctx context.Context, groupID, requester string) error {
	if _, err := d.ownedGroup(ctx, groupID, requester); err != nil {
		return err
	}
	if err := retry.Run(ctx, d.policy, func(ctx context.Context) error {
		return d.store.DeleteGroup(ctx, groupID)
	}); err != nil {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	d.logger.Info("group deleted", "group", groupID)
	return nil
}

func (d *Directory) ListGroups(ctx context.Context, participant string) ([]models.Group, error) {
	if participant == "" {
		return nil, fmt.Errorf("%w: missing participant", models.ErrValidation)
	}
	groups, err := retry.Do(ctx, d.policy, func(ctx context.Context) ([]models.Group, error) {
		return d.store.ListGroupsForUser(ctx, participant)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if groups == nil {
		groups = []models.Group{}
	}
	return groups, nil
}

// Group returns a group the requester belongs to.
func (d *Directory) Group(ctx context.Context, groupID, requester string) (*models.Group, error) {
	g, err := d.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(requester) {
		return nil, fmt.Errorf("group %s: %w", groupID, models.ErrPermissionDenied)
	}
	return g, nil
}

// GroupChannel returns the group's message channel if requester is a member.
func (d *Directory) GroupChannel(ctx context.Context, groupID, requester string) (string, error) {
	g, err := d.Group(ctx, groupID, requester)
	if err != nil {
		return "", err
	}
	return g.ChannelID, nil
}

// GroupMembers resolves each member's display name. Members without a
// profile are reported as "Unknown".
func (d *Directory) GroupMembers(ctx context.Context, groupID string) ([]models.Member, error) {
	g, err := d.group(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members := make([]models.Member, 0, len(g.Members))
	for _, id := range g.Members {
		name := models.UnknownMemberName
		u, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.User, error) {
			return d.store.GetUser(ctx, id)
		})
		switch {
		case err == nil:
			name = u.DisplayName()
		case errors.Is(err, models.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to resolve member %s: %w", id, err)
		}
		members = append(members, models.Member{ID: id, Name: name})
	}
	return members, nil
}

func (d *Directory) group(ctx context.Context, groupID string) (*models.Group, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, fmt.Errorf("%w: missing group id", models.ErrValidation)
	}
	g, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Group, error) {
		return d.store.GetGroup(ctx, groupID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load group %s: %w", groupID, err)
	}
	return g, nil
}

func (d *Directory) ownedGroup(ctx context.Context, groupID, requester string) (*models.Group, error) {
	g, err := d.group(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g.CreatorID != requester {
		return nil, fmt.Errorf("only the creator can change group %s: %w", groupID, models.ErrPermissionDenied)
	}
	return g, nil
}

func (d *Directory) reload(ctx context.Context, g models.Group) *models.Group {
	stored, err := retry.Do(ctx, d.policy, func(ctx context.Context) (*models.Group, error) {
		return d.store.GetGroup(ctx, g.ID)
	})
	if err != nil {
		d.logger.Warn("failed to reload group", "group", g.ID, "err", err)
		return &g
	}
	return stored
}
