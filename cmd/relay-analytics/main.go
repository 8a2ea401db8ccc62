package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-relay/internal/api/handlers"
	"auction-relay/internal/api/middleware"
	"auction-relay/internal/config"
	"auction-relay/internal/infrastructure/mysql"
	redisinfra "auction-relay/internal/infrastructure/redis"
	"auction-relay/internal/services"
	"auction-relay/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	instanceID := "analytics-" + cfg.Instance.ID
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "relay-analytics", "instance_id", instanceID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(startCtx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	db, err := mysql.Open(startCtx, cfg.MySQL)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to MySQL")

	repo := mysql.NewMySQLRoomEventRepository(db)
	if err := repo.EnsureSchema(startCtx); err != nil {
		log.Error("Failed to prepare room_events table", "error", err)
		os.Exit(1)
	}

	fanOut := redisinfra.NewRedisFanOut(rdb, instanceID, log)
	journal := services.NewRoomEventJournal(repo, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins, log))
	handlers.NewRoomEventsHandler(journal, log).Register(router)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"relay-analytics"}`)
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return journal.Start(gctx, fanOut)
	})
	g.Go(func() error {
		log.Info("Starting analytics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down analytics service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var err error
		err = multierr.Append(err, server.Shutdown(shutdownCtx))
		err = multierr.Append(err, fanOut.Close())
		err = multierr.Append(err, db.Close())
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Analytics service stopped with errors", "error", err)
		os.Exit(1)
	}
	log.Info("Analytics service stopped")
}
