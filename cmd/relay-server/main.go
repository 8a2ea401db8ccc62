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
	"auction-relay/internal/config"
	"auction-relay/internal/domain"
	"auction-relay/internal/infrastructure/fanout"
	"auction-relay/internal/infrastructure/leader"
	redisinfra "auction-relay/internal/infrastructure/redis"
	"auction-relay/internal/infrastructure/websocket"
	"auction-relay/internal/metrics"
	"auction-relay/internal/services"
	"auction-relay/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level).With("service", "relay-server", "instance_id", cfg.Instance.ID)
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics := metrics.NewRelayMetrics(registry)

	rdb := connectRedis(ctx, cfg.Redis, log)

	var fanOut domain.FanOut = fanout.NewLocalFanOut()
	var redisFanOut *redisinfra.RedisFanOut
	if rdb != nil {
		redisFanOut = redisinfra.NewRedisFanOut(rdb, cfg.Instance.ID, log)
		fanOut = redisFanOut
	} else {
		log.Warn("Running without backbone, rooms are local to this instance")
	}

	relay := services.NewRelay(cfg.Instance.ID, fanOut, relayMetrics, log)
	connections := websocket.NewConnectionManager(log)
	relay.SetSender(connections)

	var election *leader.RedisLeaderElection
	var reaper *services.PresenceReaper
	if redisFanOut != nil {
		election = leader.NewRedisLeaderElection(rdb, leader.DefaultKey, cfg.Leader.TTL)
		reaper = services.NewPresenceReaper(redisFanOut, election, redisFanOut,
			cfg.Instance.ID, cfg.Relay.ReapSchedule, cfg.Relay.HeartbeatTTL, log)
		reaper.SetResync(relay)
		if err := reaper.Start(ctx); err != nil {
			log.Error("Failed to start presence reaper", "error", err)
			os.Exit(1)
		}
	}

	e := newServer(cfg, relay, connections, registry, redisFanOut != nil, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("Starting relay server", "address", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down relay server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdown(shutdownCtx, e, connections, relay, reaper, election, fanOut, cfg.Instance.ID)
	})

	if err := g.Wait(); err != nil {
		log.Error("Relay server stopped with errors", "error", err)
		os.Exit(1)
	}
	log.Info("Relay server stopped")
}

// connectRedis returns nil when the backbone is disabled or unreachable.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) *redisClient.Client {
	if !cfg.Enabled {
		return nil
	}

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("Failed to connect to Redis", "address", cfg.Address, "error", err)
		rdb.Close()
		return nil
	}

	log.Info("Connected to Redis", "address", cfg.Address)
	return rdb
}

func newServer(cfg *config.Config, relay *services.Relay, connections *websocket.ConnectionManager,
	registry *prometheus.Registry, backbone bool, log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{echo.GET, echo.HEAD, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			log.Debug("Request received",
				"method", req.Method,
				"path", req.URL.Path,
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
			return next(c)
		}
	})

	wsHandler := handlers.NewWebSocketHandler(relay, connections, cfg.Server.AllowedOrigins, cfg.Relay.SendBuffer, log)
	roomHandler := handlers.NewRoomHandler(relay, log)

	e.GET("/ws", wsHandler.HandleConnection)

	api := e.Group("/api/v1")
	api.GET("/rooms/:id", roomHandler.GetRoom)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":      "ok",
			"service":     "relay-server",
			"instance_id": relay.InstanceID(),
			"connections": relay.ConnectionCount(),
			"rooms":       relay.RoomCount(),
			"backbone":    backbone,
			"timestamp":   time.Now().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return e
}

// shutdown drains websockets before dropping the backbone so departing
// members are announced to the rest of the cluster.
func shutdown(ctx context.Context, e *echo.Echo, connections *websocket.ConnectionManager, relay *services.Relay,
	reaper *services.PresenceReaper, election *leader.RedisLeaderElection, fanOut domain.FanOut, instanceID string) error {
	var err error

	err = multierr.Append(err, e.Shutdown(ctx))
	connections.CloseAll()
	relay.Close(ctx)

	if reaper != nil {
		err = multierr.Append(err, reaper.Stop())
	}
	if election != nil {
		err = multierr.Append(err, election.ReleaseLeadership(ctx, instanceID))
	}
	err = multierr.Append(err, fanOut.Close())
	return err
}
