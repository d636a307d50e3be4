// Package worker is the reference render worker. It registers with the hub,
// heartbeats on a fixed interval and pulls its work from the heartbeat
// response: new assignments are started, assignments that disappear are
// treated as cancellations and aborted.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/renderer"
)

type Deps struct {
	API      *APIClient
	Renderer renderer.Client
	Log      *logger.Logger

	WorkerID     string
	Capabilities []string

	HeartbeatInterval    time.Duration
	MaxConcurrentRenders int64
}

type runner struct {
	deps Deps
	log  *logger.Logger
	sem  *semaphore.Weighted

	mu sync.Mutex
	// active maps job IDs to the cancel func of their render goroutine.
	active map[string]context.CancelFunc
	// completed holds jobs whose terminal update has not been acknowledged
	// by a successful heartbeat yet, so they are not restarted in between.
	completed map[string]struct{}
	// pending is the update batch for the next heartbeat.
	pending []dispatch.StatusUpdate
}

// Run registers the worker and drives the heartbeat loop until ctx is
// cancelled, then unregisters.
func Run(ctx context.Context, deps Deps) error {
	if deps.HeartbeatInterval <= 0 {
		deps.HeartbeatInterval = 5 * time.Second
	}
	if deps.MaxConcurrentRenders <= 0 {
		deps.MaxConcurrentRenders = 1
	}
	log := deps.Log.WithWorkerID(deps.WorkerID)

	if err := deps.API.Register(ctx, deps.WorkerID, deps.Capabilities); err != nil {
		return err
	}
	log.Info("worker registered", "capabilities", deps.Capabilities)

	r := &runner{
		deps:      deps,
		log:       log,
		sem:       semaphore.NewWeighted(deps.MaxConcurrentRenders),
		active:    make(map[string]context.CancelFunc),
		completed: make(map[string]struct{}),
	}

	ticker := time.NewTicker(deps.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

// beat sends one heartbeat with the buffered updates and reconciles the
// local render set against the assignments in the response.
func (r *runner) beat(ctx context.Context) {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	res, err := r.deps.API.Heartbeat(ctx, r.deps.WorkerID, batch)
	if err != nil {
		r.log.Error("heartbeat failed", "error", err, "buffered_updates", len(batch))
		// Put the batch back so the next beat retries it.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return
	}

	for _, id := range res.UnknownJobs {
		r.log.Warn("hub rejected update for unknown job", "job_id", id)
	}

	assigned := make(map[string]struct{}, len(res.Assigned))
	for _, snap := range res.Assigned {
		assigned[snap.JobID] = struct{}{}
	}

	r.mu.Lock()
	// Delivered terminal updates are acknowledged; the jobs can be
	// forgotten locally.
	for _, u := range batch {
		if u.Status.Terminal() {
			delete(r.completed, u.JobID)
		}
	}

	// A running job that is no longer assigned was cancelled on the hub.
	for id, cancel := range r.active {
		if _, ok := assigned[id]; !ok {
			r.log.Info("assignment withdrawn, aborting render", "job_id", id)
			cancel()
			delete(r.active, id)
		}
	}

	// Start renders for assignments we are not working on yet.
	type start struct {
		snap dispatch.Snapshot
		ctx  context.Context
	}
	var starts []start
	for _, snap := range res.Assigned {
		if _, busy := r.active[snap.JobID]; busy {
			continue
		}
		if _, done := r.completed[snap.JobID]; done {
			continue
		}
		jobCtx, cancel := context.WithCancel(ctx)
		r.active[snap.JobID] = cancel
		starts = append(starts, start{snap: snap, ctx: jobCtx})
	}
	r.mu.Unlock()

	for _, s := range starts {
		go r.render(s.ctx, s.snap)
	}
}

func (r *runner) render(jobCtx context.Context, snap dispatch.Snapshot) {
	log := r.log.WithJobID(snap.JobID)

	if err := r.sem.Acquire(jobCtx, 1); err != nil {
		r.finish(snap.JobID, nil)
		return
	}
	defer r.sem.Release(1)

	log.Info("render started", "engine", string(snap.Engine))
	r.report(dispatch.StatusUpdate{JobID: snap.JobID, Status: dispatch.StatusRunning, Progress: 10})

	result, err := r.deps.Renderer.Render(jobCtx, renderer.Request{
		JobID:      snap.JobID,
		Engine:     snap.Engine,
		Scene:      snap.Scene,
		OutputPath: snap.OutputPath,
	})

	switch {
	case jobCtx.Err() != nil:
		// Cancelled by the hub; nothing to report.
		log.Info("render aborted")
		r.finish(snap.JobID, nil)

	case err != nil:
		log.Error("render failed", "error", err)
		r.finish(snap.JobID, &dispatch.StatusUpdate{
			JobID:  snap.JobID,
			Status: dispatch.StatusFailed,
			Error:  err.Error(),
		})

	default:
		log.Info("render finished", "output_path", result.OutputPath)
		r.finish(snap.JobID, &dispatch.StatusUpdate{
			JobID:    snap.JobID,
			Status:   dispatch.StatusSucceeded,
			Progress: 100,
			Result:   map[string]any{"output_path": result.OutputPath},
		})
	}
}

// finish removes the job from the active set and, when update is non-nil,
// buffers its terminal report for the next heartbeat.
func (r *runner) finish(jobID string, update *dispatch.StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.active[jobID]; ok {
		cancel()
		delete(r.active, jobID)
	}
	if update != nil {
		r.completed[jobID] = struct{}{}
		r.pending = append(r.pending, *update)
	}
}

func (r *runner) report(u dispatch.StatusUpdate) {
	r.mu.Lock()
	r.pending = append(r.pending, u)
	r.mu.Unlock()
}

// shutdown aborts in-flight renders and unregisters with a short grace
// period independent of the already-cancelled run context.
func (r *runner) shutdown() {
	r.mu.Lock()
	for id, cancel := range r.active {
		r.log.Info("aborting render for shutdown", "job_id", id)
		cancel()
	}
	r.active = make(map[string]context.CancelFunc)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.deps.API.Unregister(ctx, r.deps.WorkerID); err != nil {
		r.log.Error("unregister failed", "error", err)
	} else {
		r.log.Info("worker unregistered")
	}
}
