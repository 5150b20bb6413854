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

// Package events fans stored messages out to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/efchatnet/efsync/backend/models"
)

const (
	DefaultTopic       = "messages.created"
	TypeMessageCreated = "message.created"
)

// MessageCreated is the payload written for every appended message.
type MessageCreated struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel"`
	Message models.Message `json:"message"`
}

type Publisher interface {
	PublishMessage(ctx context.Context, channel string, msg models.Message) error
	Close() error
}

// Nop discards events. It is used when no brokers are configured.
type Nop struct{}

func (Nop) PublishMessage(context.Context, string, models.Message) error { return nil }
func (Nop) Close() error                                                { return nil }

type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher writes to topic on the comma separated brokers. Writes
// are batched and asynchronous.
func NewKafkaPublisher(brokers, topic string) (*KafkaPublisher, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}}, nil
}

// PublishMessage keys the record by channel so one channel stays on one
// partition.
func (p *KafkaPublisher) PublishMessage(ctx context.Context, channel string, msg models.Message) error {
	value, err := Encode(channel, msg)
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(channel),
		Value: value,
		Time:  time.UnixMilli(msg.Timestamp),
	}); err != nil {
		return fmt.Errorf("failed to publish message %s: %w", msg.Key, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

func Encode(channel string, msg models.Message) ([]byte, error) {
	value, err := json.Marshal(MessageCreated{
		Type:    TypeMessageCreated,
		Channel: channel,
		Message: msg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message %s: %w", msg.Key, err)
	}
	return value, nil
}
