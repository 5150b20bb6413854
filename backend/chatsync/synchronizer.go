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

// Package chatsync keeps live, de-duplicated, newest-first views of message
// channels and sends new messages into them.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/efchatnet/efsync/backend/attachment"
	"github.com/efchatnet/efsync/backend/events"
	"github.com/efchatnet/efsync/backend/metrics"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/ratelimiter"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage"
)

const locationURL = "https://www.google.com/maps?q="

// Uploader stores an attachment and returns its public location.
type Uploader interface {
	Upload(ctx context.Context, f attachment.File) (models.Attachment, error)
}

// SendRequest is one outgoing message. File is optional.
type SendRequest struct {
	Channel  string
	SenderID string
	Text     string
	File     *attachment.File
}

type Synchronizer struct {
	messages  storage.MessageStore
	uploader  Uploader
	publisher events.Publisher
	limiter   *ratelimiter.Limiter
	policy    retry.Policy
	metrics   *metrics.Metrics
	logger    *log.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*Synchronizer)

func WithPublisher(p events.Publisher) Option {
	return func(s *Synchronizer) { s.publisher = p }
}

func WithLimiter(l *ratelimiter.Limiter) Option {
	return func(s *Synchronizer) { s.limiter = l }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Synchronizer) { s.policy = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

func New(messages storage.MessageStore, uploader Uploader, logger *log.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		messages:  messages,
		uploader:  uploader,
		publisher: events.Nop{},
		policy:    retry.DefaultPolicy(),
		logger:    logger.With("component", "chatsync"),
		tracer:    otel.Tracer("github.com/efchatnet/efsync/backend/chatsync"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open subscribes to channel, then loads its snapshot into a new view.
// Subscribing first means nothing appended between the two calls is lost;
// anything delivered twice is dropped by key.
func (s *Synchronizer) Open(ctx context.Context, channel string) (*Handle, error) {
	if !models.IsChannel(channel) {
		return nil, fmt.Errorf("%w: unknown channel %q", models.ErrValidation, channel)
	}

	sub, err := retry.Do(ctx, s.policy, func(ctx context.Context) (storage.Subscription, error) {
		return s.messages.Subscribe(ctx, channel)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	snapshot, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]models.Message, error) {
		return s.messages.Snapshot(ctx, channel)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to load %s: %w", channel, err)
	}

	h := newHandle(channel, sub, snapshot, s.metrics, s.logger)
	s.metrics.HandleOpened()
	go h.run()

	s.logger.Debug("view opened", "channel", channel, "messages", len(h.view))
	return h, nil
}

// History returns the channel's messages once, de-duplicated and newest
// first.
func (s *Synchronizer) History(ctx context.Context, channel string) ([]models.Message, error) {
	if !models.IsChannel(channel) {
		return nil, fmt.Errorf("%w: unknown channel %q", models.ErrValidation, channel)
	}
	snapshot, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]models.Message, error) {
		return s.messages.Snapshot(ctx, channel)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", channel, err)
	}
	msgs := dedupe(snapshot, make(map[string]struct{}, len(snapshot)))
	models.SortNewestFirst(msgs)
	return msgs, nil
}

// Send appends a message to req.Channel. The message reaches open views
// through their subscriptions only.
func (s *Synchronizer) Send(ctx context.Context, req SendRequest) (models.Message, error) {
	ctx, span := s.tracer.Start(ctx, "chatsync.Send", trace.WithAttributes(
		attribute.String("channel", req.Channel),
		attribute.Bool("attachment", req.File != nil),
	))
	defer span.End()

	msg, err := s.send(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.SendFailed(failureReason(err))
		return models.Message{}, err
	}
	span.SetAttributes(attribute.String("message.key", msg.Key))
	return msg, nil
}

func (s *Synchronizer) send(ctx context.Context, req SendRequest) (models.Message, error) {
	if !models.IsChannel(req.Channel) {
		return models.Message{}, fmt.Errorf("%w: unknown channel %q", models.ErrValidation, req.Channel)
	}
	if req.SenderID == "" {
		return models.Message{}, fmt.Errorf("%w: message has no sender", models.ErrValidation)
	}
	if strings.TrimSpace(req.Text) == "" && req.File == nil {
		return models.Message{}, fmt.Errorf("%w: message needs text or an attachment", models.ErrValidation)
	}

	if err := s.limiter.Check(req.SenderID); err != nil {
		return models.Message{}, err
	}

	// The key is fixed before the first attempt so a retried append after
	// a lost reply rewrites the same record.
	key, err := uuid.NewV7()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to generate message key: %w: %v", models.ErrService, err)
	}

	msg := models.Message{Key: key.String(), SenderID: req.SenderID, Text: strings.TrimSpace(req.Text)}
	if req.File != nil {
		att, err := s.uploader.Upload(ctx, *req.File)
		if err != nil {
			if !errors.Is(err, models.ErrUpload) {
				err = fmt.Errorf("%w: %w", models.ErrUpload, err)
			}
			return models.Message{}, err
		}
		msg.Attachment = &att
	}
	msg.Timestamp = s.now().UnixMilli()
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}

	stored, err := retry.Do(ctx, s.policy, func(ctx context.Context) (models.Message, error) {
		return s.messages.Append(ctx, req.Channel, msg)
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to append to %s: %w", req.Channel, err)
	}
	s.metrics.MessageSent(channelKind(req.Channel))

	if err := s.publisher.PublishMessage(ctx, req.Channel, stored); err != nil {
		s.logger.Warn("failed to publish message event", "channel", req.Channel, "key", stored.Key, "err", err)
	}

	s.logger.Debug("message sent", "channel", req.Channel, "key", stored.Key, "sender", req.SenderID)
	return stored, nil
}

// SendLocation sends a map link for the given coordinates as a text message.
func (s *Synchronizer) SendLocation(ctx context.Context, channel, senderID string, lat, lon float64) (models.Message, error) {
	if err := ValidateCoordinates(lat, lon); err != nil {
		s.metrics.SendFailed("validation")
		return models.Message{}, err
	}
	return s.Send(ctx, SendRequest{
		Channel:  channel,
		SenderID: senderID,
		Text:     LocationText(lat, lon),
	})
}

func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", models.ErrValidation, lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", models.ErrValidation, lon)
	}
	return nil
}

func LocationText(lat, lon float64) string {
	return "📍 Location: " + locationURL +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

func channelKind(channel string) string {
	if strings.HasPrefix(channel, models.GroupChannel("")) {
		return "group"
	}
	return "chat"
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, models.ErrUpload):
		return "upload"
	default:
		return "service"
	}
}
