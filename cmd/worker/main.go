package main

import (
	"context"
	"os/signal"
	"syscall"

	"renderhub/internal/config"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/renderer"
	"renderhub/internal/worker"
)

func main() {
	cfg, err := config.LoadWorker()
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
		ServiceName: "renderhub-worker",
	})

	log.Info("starting renderhub worker",
		"worker_id", cfg.WorkerID,
		"hub", cfg.HubBaseURL,
		"engines", cfg.Capabilities,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := worker.Deps{
		API:      worker.NewAPIClient(cfg.HubBaseURL),
		Renderer: renderer.NewHTTPClient(cfg.RendererBaseURL),
		Log:      log,

		WorkerID:     cfg.WorkerID,
		Capabilities: cfg.Capabilities,

		HeartbeatInterval:    cfg.HeartbeatInterval,
		MaxConcurrentRenders: cfg.MaxConcurrentRenders,
	}

	if err := worker.Run(ctx, deps); err != nil {
		log.LogFatal("worker exited", err)
	}
	log.Info("worker stopped")
}
