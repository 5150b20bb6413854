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

package integration

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"

	"github.com/efchatnet/efsync/backend/attachment"
	"github.com/efchatnet/efsync/backend/chatsync"
	"github.com/efchatnet/efsync/backend/config"
	"github.com/efchatnet/efsync/backend/directory"
	"github.com/efchatnet/efsync/backend/events"
	"github.com/efchatnet/efsync/backend/handlers"
	"github.com/efchatnet/efsync/backend/identity"
	"github.com/efchatnet/efsync/backend/metrics"
	"github.com/efchatnet/efsync/backend/middleware"
	"github.com/efchatnet/efsync/backend/ratelimiter"
	"github.com/efchatnet/efsync/backend/storage"
)

// ChatIntegration provides the chat API as a plugin that can be mounted on
// an existing efchat router.
type ChatIntegration struct {
	settings *config.Config
	logger   *log.Logger

	directory *directory.Directory
	sync      *chatsync.Synchronizer
	identity  *identity.Service

	authHandler  *handlers.AuthHandler
	userHandler  *handlers.UserHandler
	dmHandler    *handlers.DMHandler
	groupHandler *handlers.GroupHandler
}

// Config holds the collaborators the chat integration runs on
type Config struct {
	Settings    *config.Config
	Directory   storage.DirectoryStore
	Messages    storage.MessageStore
	Objects     storage.ObjectStore
	Revocations storage.RevocationStore
	Publisher   events.Publisher
	Metrics     *metrics.Metrics
	Logger      *log.Logger
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// NewChatIntegration wires the services and handlers, running directory
// migrations when the store supports them
func NewChatIntegration(ctx context.Context, cfg *Config) (*ChatIntegration, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	s := cfg.Settings
	logger := cfg.Logger

	if m, ok := cfg.Directory.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}

	uploader := attachment.NewUploader(cfg.Objects, s.UploadPolicy(), logger,
		attachment.WithMaxSize(s.Attachments.MaxSize),
		attachment.WithMetrics(cfg.Metrics),
	)
	sync := chatsync.New(cfg.Messages, uploader, logger,
		chatsync.WithPublisher(publisher),
		chatsync.WithLimiter(ratelimiter.New(s.RateLimit.PerSecond, s.RateLimit.Burst, 10*time.Minute)),
		chatsync.WithRetryPolicy(s.StorePolicy()),
		chatsync.WithMetrics(cfg.Metrics),
	)
	dir := directory.New(cfg.Directory, uploader, s.StorePolicy(), logger)
	auth := identity.NewAuthenticator(s.Auth.Secret, s.Auth.Issuer, s.Auth.TokenTTL)
	ident := identity.NewService(cfg.Directory, cfg.Revocations, auth, s.StorePolicy(), logger)

	httpLogger := logger.With("component", "http")
	stream := handlers.NewStreamer(sync, middleware.AllowOrigin(s.Server.AllowedOrigins), logger)

	return &ChatIntegration{
		settings:     s,
		logger:       logger,
		directory:    dir,
		sync:         sync,
		identity:     ident,
		authHandler:  handlers.NewAuthHandler(ident, httpLogger),
		userHandler:  handlers.NewUserHandler(dir, s.Attachments.MaxSize, httpLogger),
		dmHandler:    handlers.NewDMHandler(dir, sync, stream, s.Attachments.MaxSize, httpLogger),
		groupHandler: handlers.NewGroupHandler(dir, sync, stream, s.Attachments.MaxSize, httpLogger),
	}, nil
}

// RegisterRoutes adds the chat routes to an existing router.
// If authMiddleware is nil, the built-in session validation is used.
func (c *ChatIntegration) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	if authMiddleware == nil {
		authMiddleware = middleware.NewAuthMiddleware(c.identity)
	}

	public := router.PathPrefix("/api/chat/auth").Subrouter()
	public.HandleFunc("/signup", c.authHandler.SignUp).Methods("POST", "OPTIONS")
	public.HandleFunc("/signin", c.authHandler.SignIn).Methods("POST", "OPTIONS")

	api := router.PathPrefix("/api/chat").Subrouter()
	api.Use(authMiddleware)

	api.HandleFunc("/auth/signout", c.authHandler.SignOut).Methods("POST", "OPTIONS")

	// Users and profile
	api.HandleFunc("/users", c.userHandler.SearchUsers).Methods("GET", "OPTIONS")
	api.HandleFunc("/profile", c.userHandler.GetProfile).Methods("GET", "OPTIONS")
	api.HandleFunc("/profile", c.userHandler.SaveProfile).Methods("PUT", "OPTIONS")
	api.HandleFunc("/profile/picture", c.userHandler.SetProfilePicture).Methods("POST", "OPTIONS")

	// One-to-one conversations
	api.HandleFunc("/conversations", c.dmHandler.ListConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations", c.dmHandler.StartConversation).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{peerId}", c.dmHandler.DeleteConversation).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/conversations/{peerId}/messages", c.dmHandler.History).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/{peerId}/messages", c.dmHandler.Send).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{peerId}/location", c.dmHandler.SendLocation).Methods("POST", "OPTIONS")
	api.HandleFunc("/conversations/{peerId}/stream", c.dmHandler.Stream).Methods("GET")

	// Groups
	api.HandleFunc("/groups", c.groupHandler.ListGroups).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups", c.groupHandler.CreateGroup).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}", c.groupHandler.GetGroup).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}", c.groupHandler.DeleteGroup).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/members", c.groupHandler.AddMembers).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", c.groupHandler.History).Methods("GET", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/messages", c.groupHandler.Send).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/location", c.groupHandler.SendLocation).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups/{groupId}/stream", c.groupHandler.Stream).Methods("GET")
}

// Accessors for embedding the services elsewhere in efchat
func (c *ChatIntegration) Directory() *directory.Directory { return c.directory }

func (c *ChatIntegration) Synchronizer() *chatsync.Synchronizer { return c.sync }

func (c *ChatIntegration) Identity() *identity.Service { return c.identity }

func validate(cfg *Config) error {
	switch {
	case cfg == nil || cfg.Settings == nil:
		return &ValidationError{Message: "settings are not configured"}
	case cfg.Logger == nil:
		return &ValidationError{Message: "logger is not configured"}
	case cfg.Directory == nil || cfg.Messages == nil:
		return &ValidationError{Message: "directory and message stores are required"}
	case cfg.Objects == nil:
		return &ValidationError{Message: "object store is required"}
	case cfg.Revocations == nil:
		return &ValidationError{Message: "revocation store is required"}
	case cfg.Settings.Auth.Secret == "" && cfg.Settings.Storage.Driver != config.DriverMemory:
		return &ValidationError{Message: "JWT secret is not configured"}
	}
	return nil
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
