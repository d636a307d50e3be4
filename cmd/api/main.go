package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderhub/internal/artifacts"
	"renderhub/internal/config"
	"renderhub/internal/dispatch"
	"renderhub/internal/httpapi"
	"renderhub/internal/httpapi/handlers"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/pkg/shutdown"
	"renderhub/internal/sink"
	"renderhub/internal/ws"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	format := "text"
	if cfg.LogJSON {
		format = "json"
	}
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      format,
		ServiceName: "renderhub-api",
	})

	log.Info("starting renderhub API", "version", "0.1.0", "env", cfg.AppEnv)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	d := dispatch.New(log, dispatch.Config{
		MaxJobsPerWorker:  cfg.MaxJobsPerWorker,
		TerminalRetention: cfg.TerminalRetention,
		CleanupInterval:   cfg.CleanupInterval,
	})

	hub := ws.NewHub(log)
	d.Subscribe(hub.Notify)

	// Postgres status mirror, optional.
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		shutdownMgr.Register("postgres", func(ctx context.Context) error {
			pool.Close()
			return nil
		})
		log.Info("PostgreSQL connected")

		d.Subscribe(sink.NewPostgresMirror(pool, log).Notify)
	}

	// Redis event publisher, optional.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		log.Info("connecting to Redis")
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		log.Info("Redis connected")

		d.Subscribe(sink.NewRedisPublisher(rdb, cfg.RedisChannel, log).Notify)
	}

	store, err := artifacts.NewStore(ctx, artifacts.Options{
		Provider:          cfg.ArtifactProvider,
		LocalRoot:         cfg.ArtifactLocalRoot,
		DriveClientID:     cfg.DriveClientID,
		DriveClientSecret: cfg.DriveClientSecret,
		DriveRefreshToken: cfg.DriveRefreshToken,
		DriveFolderID:     cfg.DriveFolderID,
	})
	if err != nil {
		log.LogFatal("failed to initialize artifact store", err)
	}
	log.Info("artifact store initialized", "provider", store.Provider())

	// Terminal-job cleanup loop.
	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	shutdownMgr.Register("cleanup-loop", func(ctx context.Context) error {
		cancelCleanup()
		return nil
	})
	go func() {
		if err := d.RunCleanup(cleanupCtx); err != nil && err != context.Canceled {
			log.Error("cleanup loop stopped", "error", err.Error())
		}
	}()

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Dispatcher: d,
			Hub:        hub,
			Store:      store,
			Log:        log,
			Pool:       pool,
			RDB:        rdb,
		},
		Log:                log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
