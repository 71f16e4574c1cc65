// cmd/client/main.go
// Reference client: builds a session-scoped realtime core, connects, watches
// a conversation and serves operational endpoints.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vireo-social/realtime/internal/cache"
	"github.com/vireo-social/realtime/internal/config"
	"github.com/vireo-social/realtime/internal/core"
	"github.com/vireo-social/realtime/internal/presence"
	"github.com/vireo-social/realtime/internal/session"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}
	logger := logrus.NewEntry(log)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	token := os.Getenv("SESSION_TOKEN")
	if token == "" {
		log.Fatal("SESSION_TOKEN is required")
	}
	sess, err := session.NewJWTStore(token)
	if err != nil {
		log.WithError(err).Fatal("invalid session credential")
	}

	store, cleanup, err := buildStore(cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("cache store init failed")
	}
	defer cleanup()

	c := core.New(cfg, sess, store, logger)
	c.OnForcedLogout(func(err error) {
		log.WithError(err).Error("forced logout, shutting down")
		// The core is already torn down; nothing left to serve.
		os.Exit(1)
	})

	// Ops endpoints.
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(c.State().String()))
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: router}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("ops endpoints listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("ops server failed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := c.Connect(ctx); err != nil {
		cancel()
		log.WithError(err).Fatal("connect failed")
	}
	cancel()

	if convID := os.Getenv("DEMO_CONVERSATION_ID"); convID != "" {
		dispose := c.SubscribeConversation(convID)
		defer dispose()
		log.WithField("conversation_id", convID).Info("watching conversation")
	}

	if peerID := os.Getenv("WATCH_USER_ID"); peerID != "" {
		dispose := c.SubscribeToUserStatus(peerID, func(st presence.Status) {
			log.WithFields(logrus.Fields{"user_id": peerID, "status": st}).Info("presence update")
		})
		defer dispose()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	c.Logout()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config, log *logrus.Entry) (cache.Store, func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryStore(), func() {}, nil
	}

	rs, err := cache.NewRedisStore(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	log.Info("using Redis-backed cache store")
	return rs, func() { rs.Close() }, nil
}
