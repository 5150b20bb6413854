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

package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/efchatnet/efsync/backend/config"
	"github.com/efchatnet/efsync/backend/events"
	"github.com/efchatnet/efsync/backend/integration"
	"github.com/efchatnet/efsync/backend/metrics"
	"github.com/efchatnet/efsync/backend/middleware"
	"github.com/efchatnet/efsync/backend/storage/memory"
	"github.com/efchatnet/efsync/backend/storage/objectstore"
	"github.com/efchatnet/efsync/backend/storage/postgres"
	redisstore "github.com/efchatnet/efsync/backend/storage/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration", "err", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "efsync",
	})
	if level, err := log.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warn("Unknown log level, using info", "level", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := initTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("Failed to initialise tracing", "err", err)
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(c)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	stores, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", "driver", cfg.Storage.Driver, "err", err)
	}
	defer stores.close()

	publisher := events.Publisher(events.Nop{})
	if cfg.Kafka.Brokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("Failed to create kafka publisher", "err", err)
		}
		publisher = kp
		logger.Info("Publishing message events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}
	defer publisher.Close()

	chat, err := integration.NewChatIntegration(ctx, &integration.Config{
		Settings:    cfg,
		Directory:   stores.integration.Directory,
		Messages:    stores.integration.Messages,
		Objects:     stores.integration.Objects,
		Revocations: stores.integration.Revocations,
		Publisher:   publisher,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to initialise chat", "err", err)
	}

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	chat.RegisterRoutes(r, nil)

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := stores.ping(r.Context()); err != nil {
			logger.Warn("Health check failed", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Storage unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           otelhttp.NewHandler(r, "http.server"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(c); err != nil {
			logger.Error("Graceful shutdown failed", "err", err)
		}
	}()

	logger.Info("Chat server starting", "port", cfg.Server.Port, "driver", cfg.Storage.Driver, "issuer", cfg.Auth.Issuer)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed to start", "err", err)
	}
	logger.Info("Chat server stopped")
}

type backend struct {
	integration integration.Config
	ping        func(ctx context.Context) error
	close       func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *log.Logger) (*backend, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		return openMemory(cfg, logger)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	store := postgres.NewStore(db)
	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	rdb, err := newRedisClient(cfg.Redis.URL)
	if err != nil {
		db.Close()
		return nil, err
	}

	objects, err := objectstore.New(objectstore.Config{
		Endpoint:      cfg.S3.Endpoint,
		AccessKey:     cfg.S3.AccessKey,
		SecretKey:     cfg.S3.SecretKey,
		UseSSL:        cfg.S3.UseSSL,
		Bucket:        cfg.S3.Bucket,
		PublicBaseURL: cfg.S3.PublicURL,
		PresignTTL:    cfg.S3.PresignTTL,
	})
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logger.Warn("Failed to ensure attachment bucket", "bucket", cfg.S3.Bucket, "err", err)
	}

	return &backend{
		integration: integration.Config{
			Directory:   store,
			Messages:    redisstore.NewMessageStore(rdb),
			Objects:     objects,
			Revocations: redisstore.NewRevocationStore(rdb),
		},
		ping: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
		close: func() {
			rdb.Close()
			db.Close()
		},
	}, nil
}

// openMemory keeps everything in process. Without a configured secret a
// random one is generated, so sessions do not survive a restart.
func openMemory(cfg *config.Config, logger *log.Logger) (*backend, error) {
	if cfg.Auth.Secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, err
		}
		cfg.Auth.Secret = hex.EncodeToString(buf)
		logger.Warn("JWT_SECRET not set, using a random secret for this process")
	}
	logger.Warn("Using in-memory storage, data is lost on restart")

	store := memory.NewStore()
	return &backend{
		integration: integration.Config{
			Directory:   store,
			Messages:    store,
			Objects:     store,
			Revocations: store,
		},
		ping:  func(context.Context) error { return nil },
		close: func() {},
	}, nil
}

// newRedisClient accepts host:port, as REDIS_URL has always been, or a
// redis:// URL.
func newRedisClient(raw string) (*redis.Client, error) {
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}
