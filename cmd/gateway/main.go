package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/handlers"
	"gtg-gateway/internal/httpserver"
	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/photoqueue"
	"gtg-gateway/internal/pipeline"
	"gtg-gateway/internal/places"
	"gtg-gateway/internal/session"
	"gtg-gateway/internal/weather"
	"gtg-gateway/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("session_backend", cfg.SessionBackend),
		zap.String("redis_addr", cfg.RedisAddr),
		zap.String("places_base_url", cfg.PlacesBaseURL),
		zap.Int("photo_session_budget", cfg.SessionBudget),
		zap.Int("photo_page_auto_limit", cfg.PageAutoLimit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == cache.BackendRedis || cfg.SessionBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Blob cache -----
	store, err := cache.NewStore(ctx, cache.Config{
		Backend:    cfg.CacheBackend,
		Prefix:     cache.DefaultRedisPrefix,
		SQLitePath: cfg.SQLitePath,
	}, redisClient)
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	blobs := cache.NewBlobCache(store, nil, logger)

	// ----- Session store -----
	var sessionStore session.Store
	health := blobs.Ping
	switch cfg.SessionBackend {
	case "redis":
		rs := session.NewRedisStore(redisClient, session.RedisConfig{
			Prefix:  session.DefaultRedisPrefix,
			IdleTTL: cfg.SessionIdleTTL,
		})
		sessionStore = rs
		health = func(ctx context.Context) error {
			return errors.Join(blobs.Ping(ctx), rs.Ping(ctx))
		}
	case "memory", "":
		// values outlive the registry's Session by one idle period at most
		sessionStore = session.NewMemoryStoreTTL(cfg.SessionIdleTTL)
	default:
		return fmt.Errorf("unknown session backend %q", cfg.SessionBackend)
	}

	// ----- Upstream clients -----
	if cfg.PlacesAPIKey == "" {
		return errors.New("PLACES_API_KEY is required")
	}
	placesClient, err := places.NewClient(places.Config{
		BaseURL: cfg.PlacesBaseURL,
		APIKey:  cfg.PlacesAPIKey,
	}, blobs, nil, logger)
	if err != nil {
		return err
	}
	defer placesClient.Close()

	weatherClient, err := weather.NewClient(weather.Config{BaseURL: cfg.OpenMeteoURL}, blobs, nil, logger)
	if err != nil {
		return err
	}

	// ----- Per-session photo pipelines -----
	sessions := pipeline.NewRegistry(pipeline.Config{
		IdleTTL:       cfg.SessionIdleTTL,
		SessionBudget: cfg.SessionBudget,
		Queue:         photoqueue.Config{PageAutoLimit: cfg.PageAutoLimit},
	}, pipeline.Deps{
		Fetcher: placesClient,
		Blobs:   blobs,
		Store:   sessionStore,
		Logger:  logger,
	})

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Photos:  handlers.NewPhotoHandler(sessions),
		Places:  handlers.NewPlacesHandler(placesClient),
		Weather: handlers.NewWeatherHandler(weatherClient),
		Health:  health,
	}, cfg.RequestTimeout)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
	)

	g, gctx := errgroup.WithContext(ctx)

	// expired blobs left by earlier runs; one pass, the store is shared by every session
	g.Go(func() error {
		removed := blobs.SweepExpired(gctx)
		logger.Info("blob cache swept", zap.Int("removed", removed))
		return nil
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// ----- Graceful shutdown -----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		sessions.Close(logging.WithLogger(shutdownCtx, logger))
		if err != nil {
			logger.Error("server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}
