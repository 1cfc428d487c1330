package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/layer-3/cerberus/adapters/events"
	"github.com/layer-3/cerberus/adapters/store"
	"github.com/layer-3/cerberus/config"
	"github.com/layer-3/cerberus/ports"
	"github.com/layer-3/cerberus/service"
	transport "github.com/layer-3/cerberus/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	cancel()
	if err != nil {
		log.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.Error("mongo disconnect failed", "error", err)
		}
	}()

	var publisher ports.EventPublisher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("parse redis url failed", "error", err)
			os.Exit(1)
		}
		wmPublisher, err := redisstream.NewPublisher(
			redisstream.PublisherConfig{Client: redis.NewClient(opts)},
			watermill.NewSlogLogger(log),
		)
		if err != nil {
			log.Error("create event publisher failed", "error", err)
			os.Exit(1)
		}
		publisher = events.NewWatermillPublisher(wmPublisher)
	}

	st := store.NewMongoStore(client.Database(cfg.MongoDatabase))

	sessions := service.NewSessionService(st.Sessions(), publisher, cfg.SessionTTL, cfg.ReapInterval, log)
	auth := service.NewAuthService(st.Users(), log)
	registrations := service.NewRegistrationService(st.Users(), st.Registrations(), sessions, cfg.Issuer, log)

	gin.SetMode(gin.ReleaseMode)
	handlers := transport.NewHandlers(auth, sessions, registrations, cfg.CookieDomain, log)
	router := transport.SetupRouter(handlers, sessions)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-stop.Done()

	log.Info("graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}
