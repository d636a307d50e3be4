// Package sink contains Status Notifier subscribers that mirror dispatcher
// state to external systems. Every sink is best-effort: the in-memory table
// stays the source of truth while a job is live, and a failed write is
// logged, never surfaced to the mutating call.
package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
)

// PostgresMirror upserts every job snapshot into the jobs table.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//	    id           TEXT PRIMARY KEY,
//	    prompt       TEXT NOT NULL,
//	    scene_json   JSONB NOT NULL,
//	    output_path  TEXT NOT NULL,
//	    priority     INT NOT NULL,
//	    engine       TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    progress     INT NOT NULL,
//	    worker_id    TEXT,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    started_at   TIMESTAMPTZ,
//	    completed_at TIMESTAMPTZ,
//	    result_json  JSONB,
//	    error        TEXT
//	);
type PostgresMirror struct {
	pool    *pgxpool.Pool
	log     *logger.Logger
	timeout time.Duration
}

func NewPostgresMirror(pool *pgxpool.Pool, log *logger.Logger) *PostgresMirror {
	return &PostgresMirror{
		pool:    pool,
		log:     log.WithComponent("pg-mirror"),
		timeout: 5 * time.Second,
	}
}

// Notify implements dispatch.Subscriber.
func (m *PostgresMirror) Notify(snap dispatch.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	sceneJSON, err := json.Marshal(snap.Scene)
	if err != nil {
		m.log.Error("scene marshal failed", "job_id", snap.JobID, "error", err.Error())
		return
	}

	var resultJSON []byte
	if snap.Result != nil {
		if resultJSON, err = json.Marshal(snap.Result); err != nil {
			m.log.Error("result marshal failed", "job_id", snap.JobID, "error", err.Error())
			resultJSON = nil
		}
	}

	_, err = m.pool.Exec(ctx,
		`INSERT INTO jobs (id, prompt, scene_json, output_path, priority, engine,
		                   status, progress, worker_id, created_at, started_at,
		                   completed_at, result_json, error)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
		     status       = EXCLUDED.status,
		     progress     = EXCLUDED.progress,
		     worker_id    = EXCLUDED.worker_id,
		     started_at   = EXCLUDED.started_at,
		     completed_at = EXCLUDED.completed_at,
		     result_json  = EXCLUDED.result_json,
		     error        = EXCLUDED.error`,
		snap.JobID, snap.Prompt, sceneJSON, snap.OutputPath, snap.Priority,
		string(snap.Engine), string(snap.Status), snap.Progress,
		nullIfEmpty(snap.WorkerID), snap.CreatedAt, snap.StartedAt,
		snap.CompletedAt, resultJSON, nullIfEmpty(snap.Error),
	)
	if err != nil {
		m.log.Error("job mirror upsert failed",
			"job_id", snap.JobID,
			"status", string(snap.Status),
			"error", err.Error(),
		)
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
