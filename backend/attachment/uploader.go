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

// Package attachment stores binary message attachments and profile pictures
// in object storage and returns their public locations.
package attachment

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/efchatnet/efsync/backend/metrics"
	"github.com/efchatnet/efsync/backend/models"
	"github.com/efchatnet/efsync/backend/retry"
	"github.com/efchatnet/efsync/backend/storage"
)

const (
	imagePrefix   = "images/"
	profilePrefix = "profiles/"

	DefaultMaxSize = 10 << 20
)

var contentTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// File is a client supplied attachment.
type File struct {
	Name string
	Data []byte
}

// ContentType maps the file extension to a MIME type. Only JPEG and PNG
// images are accepted.
func ContentType(name string) (string, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	ct, ok := contentTypes[ext]
	return ct, ok
}

type Uploader struct {
	objects storage.ObjectStore
	policy  retry.Policy
	maxSize int
	metrics *metrics.Metrics
	logger  *log.Logger
	now     func() time.Time
}

type Option func(*Uploader)

func WithMaxSize(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.maxSize = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(u *Uploader) { u.metrics = m }
}

func NewUploader(objects storage.ObjectStore, policy retry.Policy, logger *log.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		objects: objects,
		policy:  policy,
		maxSize: DefaultMaxSize,
		logger:  logger.With("component", "attachment"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores a message attachment under images/{unixMillis}_{name}.
func (u *Uploader) Upload(ctx context.Context, f File) (models.Attachment, error) {
	name := path.Base(f.Name)
	key := fmt.Sprintf("%s%d_%s", imagePrefix, u.now().UnixMilli(), name)
	return u.put(ctx, key, f)
}

// UploadProfilePicture stores a profile picture under profiles/{uid}_{name}.
func (u *Uploader) UploadProfilePicture(ctx context.Context, userID string, f File) (models.Attachment, error) {
	if userID == "" {
		return models.Attachment{}, fmt.Errorf("profile picture without user: %w", models.ErrValidation)
	}
	name := path.Base(f.Name)
	key := fmt.Sprintf("%s%s_%s", profilePrefix, userID, name)
	return u.put(ctx, key, f)
}

func (u *Uploader) put(ctx context.Context, key string, f File) (models.Attachment, error) {
	ct, ok := ContentType(f.Name)
	if !ok {
		return u.fail(key, fmt.Errorf("%w: unsupported file type %q", models.ErrUpload, path.Ext(f.Name)))
	}
	if len(f.Data) == 0 {
		return u.fail(key, fmt.Errorf("%w: empty file", models.ErrUpload))
	}
	if len(f.Data) > u.maxSize {
		return u.fail(key, fmt.Errorf("%w: file exceeds %d bytes", models.ErrUpload, u.maxSize))
	}

	if err := retry.Run(ctx, u.policy, func(ctx context.Context) error {
		return u.objects.Put(ctx, key, ct, f.Data)
	}); err != nil {
		return u.fail(key, fmt.Errorf("%w: failed to store %s: %w", models.ErrUpload, key, err))
	}

	url, err := retry.Do(ctx, u.policy, func(ctx context.Context) (string, error) {
		return u.objects.PublicURL(ctx, key)
	})
	if err != nil {
		if rmErr := u.objects.Remove(context.WithoutCancel(ctx), key); rmErr != nil {
			u.logger.Warn("failed to remove orphaned attachment", "key", key, "err", rmErr)
		}
		return u.fail(key, fmt.Errorf("%w: failed to resolve url for %s: %w", models.ErrUpload, key, err))
	}

	u.logger.Debug("attachment stored", "key", key, "size", len(f.Data))
	return models.Attachment{URL: url, Kind: models.AttachmentKindImage}, nil
}

func (u *Uploader) fail(key string, err error) (models.Attachment, error) {
	u.metrics.UploadFailed()
	u.logger.Warn("attachment upload failed", "key", key, "err", err)
	return models.Attachment{}, err
}
