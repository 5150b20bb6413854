// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package models

import (
	"fmt"
	"sort"
	"strings"
)

const (
	AttachmentKindImage = "image"

	conversationChannelPrefix = "chats/"
	groupChannelPrefix        = "groups/"
)

// Attachment points at an uploaded object.
type Attachment struct {
	URL  string `json:"uri"`
	Kind string `json:"type"`
}

// Message is immutable once appended. Key is assigned by the message store.
type Message struct {
	Key        string      `json:"key"`
	SenderID   string      `json:"sender_id"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"file"`
	Timestamp  int64       `json:"timestamp"` // unix milliseconds, sender clock
}

// Validate checks the text-or-attachment invariant.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" && m.Attachment == nil {
		return fmt.Errorf("%w: message needs text or an attachment", ErrValidation)
	}
	if m.SenderID == "" {
		return fmt.Errorf("%w: message has no sender", ErrValidation)
	}
	return nil
}

// ConversationChannel is the message channel of a one-to-one conversation.
func ConversationChannel(conversationKey string) string {
	return conversationChannelPrefix + conversationKey
}

// GroupChannel is the message channel of a group.
func GroupChannel(groupID string) string {
	return groupChannelPrefix + groupID
}

// IsChannel reports whether channel has one of the known prefixes and a
// non-empty identifier.
func IsChannel(channel string) bool {
	for _, prefix := range []string{conversationChannelPrefix, groupChannelPrefix} {
		if strings.HasPrefix(channel, prefix) && len(channel) > len(prefix) {
			return true
		}
	}
	return false
}

// SortNewestFirst orders messages by descending timestamp. Equal timestamps
// fall back to descending key so every observer sees the same order.
func SortNewestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp > msgs[j].Timestamp
		}
		return msgs[i].Key > msgs[j].Key
	})
}
