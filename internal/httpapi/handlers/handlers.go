// Package handlers implements the hub's HTTP endpoints on top of the
// dispatcher, the WebSocket hub and the artifact store.
package handlers

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"renderhub/internal/artifacts"
	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/ws"
)

type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Hub        *ws.Hub
	Store      artifacts.Store
	Log        *logger.Logger

	// Pool and RDB are optional; when present they take part in the deep
	// health check.
	Pool *pgxpool.Pool
	RDB  *redis.Client
}

type Handler struct {
	dispatcher *dispatch.Dispatcher
	hub        *ws.Hub
	store      artifacts.Store
	log        *logger.Logger
	pool       *pgxpool.Pool
	rdb        *redis.Client
}

func New(d Deps) *Handler {
	return &Handler{
		dispatcher: d.Dispatcher,
		hub:        d.Hub,
		store:      d.Store,
		log:        d.Log.WithComponent("httpapi"),
		pool:       d.Pool,
		rdb:        d.RDB,
	}
}
