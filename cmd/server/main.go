package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sprintpoker/sprintpoker/internal/config"
	"github.com/sprintpoker/sprintpoker/internal/gateway"
	"github.com/sprintpoker/sprintpoker/internal/httpapi"
	"github.com/sprintpoker/sprintpoker/internal/logging"
	"github.com/sprintpoker/sprintpoker/internal/perf"
	"github.com/sprintpoker/sprintpoker/internal/rooms"
	"github.com/sprintpoker/sprintpoker/internal/sweeper"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	clock := clockwork.NewRealClock()
	rec := logging.Default()
	pf := perf.New(clock)

	repo, redisClient, err := setupRepository(cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up room store")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	app := rooms.NewApp(repo, rec).WithTTL(cfg.RoomTTL)

	gwCfg := gateway.DefaultConfig()
	gwCfg.RateLimit = cfg.RateLimit
	gw := gateway.New(app, gwCfg, pf, rec, clock)

	var bridge *gateway.NATSBridge
	if cfg.NATSURL != "" {
		bridgeCfg := gateway.DefaultNATSBridgeConfig()
		bridgeCfg.URL = cfg.NATSURL
		bridge, err = gateway.NewNATSBridge(bridgeCfg, gw.Manager())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect broadcast bridge")
		}
		defer bridge.Close()
		gw.SetBroadcaster(bridge)
	}

	api := httpapi.NewServer(app, gateway.NewWebSocketHandler(gw), pf)
	server := api.NewHTTPServer(cfg.Port)

	log.Info().
		Str("port", cfg.Port).
		Str("backend", string(cfg.Backend)).
		Bool("bridge", bridge != nil).
		Msg("starting sprintpoker server")

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.New(app, cfg.SweepInterval, clock).Run(ctx)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("sprintpoker shutdown complete")
}

// setupRepository builds the configured room store. The returned Redis
// client is non-nil only for the redis backend, so the caller can close it.
func setupRepository(cfg config.Config, clock clockwork.Clock) (rooms.Repository, *redis.Client, error) {
	switch cfg.Backend {
	case rooms.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		return rooms.NewRedisRepository(client, "room", clock), client, nil
	default:
		return rooms.NewMemoryRepository(clock), nil, nil
	}
}
