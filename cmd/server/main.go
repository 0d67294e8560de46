package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/staffpulse/internal/adapter/httpserver"
	"github.com/pscheid92/staffpulse/internal/adapter/kafka"
	"github.com/pscheid92/staffpulse/internal/adapter/metrics"
	"github.com/pscheid92/staffpulse/internal/adapter/redis"
	"github.com/pscheid92/staffpulse/internal/adapter/websocket"
	"github.com/pscheid92/staffpulse/internal/app"
	"github.com/pscheid92/staffpulse/internal/broadcast"
	"github.com/pscheid92/staffpulse/internal/platform/config"
	"github.com/pscheid92/staffpulse/internal/platform/logging"
	"github.com/pscheid92/staffpulse/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

type ingestors struct {
	redisClient *goredis.Client
	subscriber  *redis.Subscriber
	consumer    *kafka.Consumer
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupIngestors(cfg *config.Config, ingestor *app.Ingestor, reg prometheus.Registerer) ingestors {
	var in ingestors

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		in.redisClient = client
		in.subscriber = redis.NewSubscriber(client, cfg.IngestRedisChannel, ingestor)
	}

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		consumer, err := kafka.NewConsumer(brokers, cfg.KafkaGroupID, cfg.KafkaTopic, ingestor)
		if err != nil {
			slog.Error("Failed to create Kafka consumer", "error", err)
			os.Exit(1)
		}
		in.consumer = consumer
	}

	return in
}

// runIngestors starts every configured broker loop. The returned WaitGroup completes once
// all of them returned after ctx is canceled.
func runIngestors(ctx context.Context, in ingestors) *sync.WaitGroup {
	var wg sync.WaitGroup

	if in.subscriber != nil {
		wg.Go(func() {
			if err := in.subscriber.Run(ctx); err != nil {
				slog.Error("Redis subscriber stopped", "error", err)
			}
		})
	}
	if in.consumer != nil {
		wg.Go(func() {
			if err := in.consumer.Run(ctx); err != nil {
				slog.Error("Kafka consumer stopped", "error", err)
			}
		})
	}

	return &wg
}

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, stopIngest context.CancelFunc, ingestDone *sync.WaitGroup, in ingestors, wsHandler *websocket.Handler, svc *broadcast.Service) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Warn connected clients while their sockets are still open.
		if _, err := svc.AnnounceShutdown(shutdownCtx, shutdownTimeout); err != nil {
			slog.Warn("Failed to send shutdown notice", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopIngest()
		ingestDone.Wait()
		if in.consumer != nil {
			if err := in.consumer.Close(); err != nil {
				slog.Error("Failed to close Kafka consumer", "error", err)
			}
		}
		if in.redisClient != nil {
			_ = in.redisClient.Close()
		}

		// Stopping the service closes every live socket, which ends their read loops.
		svc.Stop()
		wsHandler.Wait()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)
	ingestMetrics := metrics.NewIngestMetrics(reg)

	svc := broadcast.NewService(clock, broadcast.Options{
		MaxConnections:       cfg.MaxConnections,
		MaxConnectionsPerOrg: cfg.MaxConnectionsPerOrg,
		RoomCleanupInterval:  cfg.RoomCleanupInterval,
	}, metrics.NewBroadcastMetrics(reg))

	var verifier *websocket.TokenVerifier
	if cfg.JWTSecret != "" {
		verifier = websocket.NewTokenVerifier(cfg.JWTSecret)
	}
	router := websocket.NewRouter(svc, verifier, cfg.AuthRequired, clock, wsMetrics)
	limits := websocket.NewConnectionLimits(clock, int64(cfg.MaxConnections), cfg.ConnectRatePerSecond, cfg.ConnectBurst)

	wsHandler := websocket.NewHandler(svc, router, limits, clock, wsMetrics, websocket.HandlerOptions{
		PingInterval:   cfg.PingInterval,
		PingTimeout:    cfg.PingTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		Compression:    cfg.Compression,
		AllowedOrigins: cfg.AllowedOrigins(),
	})
	polling := websocket.NewPollingManager(svc, router, limits, clock, wsMetrics, cfg.PollWait, cfg.PingInterval+cfg.PingTimeout)

	ingestCtx, stopIngest := context.WithCancel(context.Background())
	defer stopIngest()

	ingestor := app.NewIngestor(svc, ingestMetrics)
	in := setupIngestors(cfg, ingestor, reg)

	var healthChecks []httpserver.HealthCheck
	if in.redisClient != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redis.HealthCheck(in.redisClient)})
	}

	srv := httpserver.NewServer(
		cfg,
		clock,
		svc,
		polling,
		wsHandler,
		metrics.Handler(reg),
		metrics.NewHTTPMetrics(reg),
		ingestMetrics,
		healthChecks,
	)

	go polling.Run(ingestCtx)
	ingestDone := runIngestors(ingestCtx, in)

	done := runGracefulShutdown(srv, stopIngest, ingestDone, in, wsHandler, svc)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
