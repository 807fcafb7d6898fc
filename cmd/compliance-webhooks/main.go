// Command compliance-webhooks serves the mandatory privacy compliance
// webhooks of the Infinite Scroll Pro app.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/infinite-scroll/pkg/logging"
	"github.com/Sternrassler/infinite-scroll/pkg/metrics"
	"github.com/Sternrassler/infinite-scroll/pkg/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type config struct {
	Port     string
	Secret   string
	RedisURL string
}

func main() {
	logging.Setup(logging.ConfigFromEnv())

	cfg, err := configFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func configFromEnv() (config, error) {
	cfg := config{
		Port:     getEnv("PORT", "3000"),
		Secret:   os.Getenv("SHOPIFY_WEBHOOK_SECRET"),
		RedisURL: os.Getenv("REDIS_URL"),
	}
	if cfg.Secret == "" {
		return cfg, fmt.Errorf("SHOPIFY_WEBHOOK_SECRET is required")
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	handler, err := newHandler(cfg, redisClient)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Strs("endpoints", webhook.Endpoints()).Msg("Starting compliance webhook server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// newHandler mounts the webhook receiver next to /ready and /metrics.
// Deliveries are deduplicated in Redis when a client is given, in memory
// otherwise.
func newHandler(cfg config, redisClient *redis.Client) (http.Handler, error) {
	var deliveries webhook.DeliveryStore
	if redisClient != nil {
		deliveries = webhook.NewRedisDeliveryStore(redisClient, webhook.DefaultDeliveryTTL)
	} else {
		deliveries = webhook.NewMemoryDeliveryStore(webhook.DefaultDeliveryTTL)
	}

	hooks, err := webhook.NewHandler(webhook.Config{
		Secret:     cfg.Secret,
		Deliveries: deliveries,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", hooks)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	return mux, nil
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "Redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// redisOptions accepts a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if !strings.Contains(raw, "://") {
		return &redis.Options{Addr: raw}, nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return opts, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
