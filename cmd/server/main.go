package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/remote-signer-go/internal/config"
	"github.com/openclaw/remote-signer-go/internal/database"
	"github.com/openclaw/remote-signer-go/internal/handler"
	"github.com/openclaw/remote-signer-go/internal/jobs"
	"github.com/openclaw/remote-signer-go/internal/middleware"
	"github.com/openclaw/remote-signer-go/internal/redis"
	"github.com/openclaw/remote-signer-go/internal/repository"
	"github.com/openclaw/remote-signer-go/internal/service"
	"github.com/openclaw/remote-signer-go/internal/session"
	"github.com/openclaw/remote-signer-go/internal/sse"
	"github.com/openclaw/remote-signer-go/internal/storage"
	"github.com/openclaw/remote-signer-go/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	durable, closeStore := openStore(cfg)
	defer closeStore()
	store := storage.NewFallbackStore(durable, cfg.StorageCooldown())

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var limiter service.Limiter
	if redisClient != nil {
		limiter = service.NewRedisLimiter(redisClient.Client)
	} else {
		limiter = service.NewMemoryLimiter(nil)
	}

	relayCtx, stopRelays := context.WithCancel(context.Background())
	defer stopRelays()
	factory := func(ctx context.Context) (transport.Transport, error) {
		pool := transport.NewPool()
		for _, u := range cfg.RelayURLs {
			pool.Add(transport.NewWebsocketRelay(u))
		}
		if redisClient != nil {
			pool.Add(transport.NewRedisRelay(redisClient, cfg.RedisURL))
		}
		pool.Start(relayCtx)
		log.Info().Int("relays", len(pool.Relays())).Msg("relay pool started")
		return pool, nil
	}

	manager := session.NewManager(store, session.Options{
		PersistDebounce: cfg.PersistDebounce(),
		RecencyWindow:   cfg.RecencyWindow(),
	})

	broker := sse.NewBroker()
	defer broker.Close()

	svc := service.New(manager, factory, service.Options{
		RequestTimeout:    cfg.RequestTimeout(),
		ReconnectCooldown: cfg.ReconnectCooldown(),
		SignRateLimit:     cfg.SignRateLimitPerMin,
		ClientName:        cfg.ClientName,
		Metrics:           service.NewMetrics(nil),
		Limiter:           limiter,
		OnAuthURL:         handler.PublishAuthURL(broker),
	})
	stopWatching := handler.WatchChanges(manager, svc, broker)
	defer stopWatching()

	startCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	if err := svc.Start(startCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start signing service")
	}
	cancel()

	authMiddleware := middleware.NewAuthMiddleware(cfg.APITokenHash)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(limiter, cfg.APIRateLimitPerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(svc)
	signerHandler := handler.NewSignerHandler(svc)
	eventsHandler := handler.NewEventsHandler(broker, svc)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"pending":   svc.PendingCount(),
			"adopted":   svc.Adopted() != nil,
			"timestamp": time.Now().UnixMilli(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/sessions", sessionHandler.Routes())
			r.Get("/signer", signerHandler.ServeHTTP)
		})
	})

	reconnectJob := jobs.NewReconnectJob(svc, cfg.ReconnectInterval(), cfg.RequestTimeout())
	reconnectJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	broker.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	reconnectJob.Stop()
	svc.Destroy()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), config.SessionFlushTimeout)
	manager.Close(flushCtx)
	flushCancel()

	log.Info().Msg("server stopped")
}

// openStore picks Postgres when DATABASE_URL is set and a local bbolt file
// otherwise.
func openStore(cfg *config.Config) (storage.Store, func()) {
	opts := storage.BoltOptions{
		EncryptionKey: cfg.EncryptionKey,
		MaxBytes:      cfg.StorageMaxBytes,
	}

	if cfg.DatabaseURL == "" {
		bolt, err := storage.OpenBolt(cfg.BoltPath, opts)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.BoltPath).Msg("failed to open session store")
		}
		log.Info().Str("path", cfg.BoltPath).Msg("session store opened")
		return bolt, func() { bolt.Close() }
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare database schema")
	}
	log.Info().Msg("database connected")

	repo := repository.NewSnapshotRepository(db.DB)
	return storage.NewPostgresStore(repo, cfg.EncryptionKey), func() { db.Close() }
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
