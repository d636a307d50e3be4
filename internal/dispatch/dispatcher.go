// Package dispatch implements the in-memory job dispatch and lifecycle
// tracking core: the job table, the worker registry, capability-aware
// first-fit assignment and the status notifier.
package dispatch

import (
	"context"
	"sync"
	"time"

	"renderhub/internal/pkg/errors"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/scene"
)

// Config holds dispatcher tuning knobs.
type Config struct {
	// MaxJobsPerWorker caps concurrent assignments per worker. Default 3.
	MaxJobsPerWorker int
	// TerminalRetention is how long terminal jobs stay queryable before the
	// cleanup sweep may evict them. Default 1h.
	TerminalRetention time.Duration
	// CleanupInterval is how often RunCleanup sweeps. Default 5m.
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxJobsPerWorker <= 0 {
		c.MaxJobsPerWorker = 3
	}
	if c.TerminalRetention <= 0 {
		c.TerminalRetention = time.Hour
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

// Dispatcher is the single public control surface over the dispatch core.
// Construct one per process and pass it by reference to every consumer.
//
// One mutex guards the whole table; every mutation runs under it.
// Notifications collected during a mutation are published after the lock is
// released, so subscribers may safely call back into the Dispatcher.
type Dispatcher struct {
	log      *logger.Logger
	cfg      Config
	notifier *Notifier

	mu       sync.Mutex
	table    *jobTable
	registry *workerRegistry
	pending  *pendingQueue
}

// New creates a Dispatcher with the given configuration.
func New(log *logger.Logger, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:      log.WithComponent("dispatcher"),
		cfg:      cfg,
		notifier: NewNotifier(log),
		table:    newJobTable(),
		registry: newWorkerRegistry(cfg.MaxJobsPerWorker),
		pending:  newPendingQueue(),
	}
}

// Subscribe registers a status subscriber. See Notifier.Subscribe.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	d.notifier.Subscribe(fn)
}

// SubmitJob creates a job, enqueues it and immediately attempts assignment.
// The returned snapshot reflects the state after the attempt: PENDING when no
// capable worker has capacity, RUNNING otherwise.
func (d *Dispatcher) SubmitJob(prompt string, doc scene.Document, outputPath string, priority int) (Snapshot, error) {
	var events []Snapshot

	d.mu.Lock()
	job := d.table.create(prompt, doc, outputPath, priority, time.Now().UTC())
	events = append(events, job.snapshot())
	d.pending.push(job)
	d.sweepLocked(&events)
	snap := job.snapshot()
	d.mu.Unlock()

	d.publish(events)
	d.log.Info("job submitted",
		"job_id", snap.JobID,
		"engine", string(snap.Engine),
		"priority", snap.Priority,
		"status", string(snap.Status),
	)
	return snap, nil
}

// GetJob returns the current snapshot of a job.
func (d *Dispatcher) GetJob(jobID string) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.table.get(jobID)
	if !ok {
		return Snapshot{}, errors.NotFound("job", jobID)
	}
	return job.snapshot(), nil
}

// ListJobs returns snapshots of jobs with the given status; the empty status
// matches everything.
func (d *Dispatcher) ListJobs(status Status) []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	jobs := d.table.listByStatus(status)
	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot())
	}
	return out
}

// CancelJob transitions a non-terminal job to CANCELLED. Cancellation is
// cooperative: a worker already rendering the job observes the cancellation
// when the job disappears from its heartbeat response and stops on its own.
// Returns a CONFLICT error for jobs that are already terminal.
func (d *Dispatcher) CancelJob(jobID string) (Snapshot, error) {
	var events []Snapshot

	d.mu.Lock()
	job, ok := d.table.get(jobID)
	if !ok {
		d.mu.Unlock()
		return Snapshot{}, errors.NotFound("job", jobID)
	}
	if job.Status.Terminal() {
		status := job.Status
		d.mu.Unlock()
		return Snapshot{}, errors.Conflict("job already terminal").
			WithField("job_id", jobID).
			WithField("status", string(status))
	}

	if job.WorkerID != "" {
		if w, ok := d.registry.get(job.WorkerID); ok {
			w.detach(job.ID)
		}
	}

	now := time.Now().UTC()
	job.Status = StatusCancelled
	job.CompletedAt = &now
	events = append(events, job.snapshot())

	// Cancelling an assigned job frees a slot.
	d.sweepLocked(&events)
	snap := job.snapshot()
	d.mu.Unlock()

	d.publish(events)
	d.log.Info("job cancelled", "job_id", jobID)
	return snap, nil
}

// RegisterWorker creates or replaces a worker entry and sweeps pending jobs
// against the new capacity.
func (d *Dispatcher) RegisterWorker(workerID string, capabilities []string) (WorkerSnapshot, error) {
	if workerID == "" {
		return WorkerSnapshot{}, errors.ValidationField("worker_id", "worker_id is required")
	}

	engines := make([]scene.Engine, 0, len(capabilities))
	for _, c := range capabilities {
		eng, ok := scene.ParseEngine(c)
		if !ok {
			return WorkerSnapshot{}, errors.ValidationField("capabilities", "unknown engine: "+c)
		}
		engines = append(engines, eng)
	}
	if len(engines) == 0 {
		return WorkerSnapshot{}, errors.ValidationField("capabilities", "at least one engine is required")
	}

	var events []Snapshot

	d.mu.Lock()
	if prev, ok := d.registry.get(workerID); ok && len(prev.Assigned) > 0 {
		d.log.Warn("worker re-registered with jobs in flight, orphaning them",
			"worker_id", workerID,
			"orphaned_jobs", prev.Assigned,
		)
	}
	w := d.registry.register(workerID, engines, time.Now().UTC())
	assigned := d.sweepLocked(&events)
	snap := w.snapshot()
	d.mu.Unlock()

	d.publish(events)
	d.log.Info("worker registered",
		"worker_id", workerID,
		"capabilities", snap.Capabilities,
		"jobs_assigned", assigned,
	)
	return snap, nil
}

// UnregisterWorker removes a worker entry. Jobs it still held stay
// ASSIGNED/RUNNING with a dangling worker ID; recovery of orphaned jobs is an
// external supervisor's call, not this core's.
func (d *Dispatcher) UnregisterWorker(workerID string) error {
	d.mu.Lock()
	w, ok := d.registry.unregister(workerID)
	d.mu.Unlock()

	if !ok {
		return errors.NotFound("worker", workerID)
	}
	if len(w.Assigned) > 0 {
		d.log.Warn("worker unregistered with jobs in flight, orphaning them",
			"worker_id", workerID,
			"orphaned_jobs", w.Assigned,
		)
	}
	d.log.Info("worker unregistered", "worker_id", workerID)
	return nil
}

// GetWorker returns the current snapshot of a worker.
func (d *Dispatcher) GetWorker(workerID string) (WorkerSnapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.registry.get(workerID)
	if !ok {
		return WorkerSnapshot{}, errors.NotFound("worker", workerID)
	}
	return w.snapshot(), nil
}

// ListWorkers returns snapshots of all workers in registration order.
func (d *Dispatcher) ListWorkers() []WorkerSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	workers := d.registry.ordered()
	out := make([]WorkerSnapshot, 0, len(workers))
	for _, w := range workers {
		out = append(out, w.snapshot())
	}
	return out
}

// HeartbeatResult is what a worker gets back from a heartbeat: the snapshots
// of every job currently assigned to it (its pull channel for new work and
// for noticing cancellations by absence) plus any update targets that were
// unknown or not owned by the caller.
type HeartbeatResult struct {
	Assigned    []Snapshot `json:"assigned"`
	UnknownJobs []string   `json:"unknown_jobs,omitempty"`
}

// Heartbeat refreshes a worker's liveness and applies its status updates.
// Terminal reports free capacity, so a sweep runs before the response is
// assembled; a job completed in this heartbeat can be replaced by a new
// assignment in the same response.
func (d *Dispatcher) Heartbeat(workerID string, updates []StatusUpdate) (HeartbeatResult, error) {
	var events []Snapshot
	var res HeartbeatResult

	d.mu.Lock()
	w, ok := d.registry.get(workerID)
	if !ok {
		d.mu.Unlock()
		return HeartbeatResult{}, errors.NotFound("worker", workerID)
	}
	w.LastHeartbeat = time.Now().UTC()

	freed := false
	for _, u := range updates {
		applied, known := d.applyUpdateLocked(w, u, &events)
		if !known {
			res.UnknownJobs = append(res.UnknownJobs, u.JobID)
		}
		if applied && u.Status.Terminal() {
			freed = true
		}
	}

	if freed {
		d.sweepLocked(&events)
	}

	res.Assigned = make([]Snapshot, 0, len(w.Assigned))
	for _, id := range w.Assigned {
		if job, ok := d.table.get(id); ok {
			res.Assigned = append(res.Assigned, job.snapshot())
		}
	}
	d.mu.Unlock()

	d.publish(events)
	return res, nil
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	Workers    int            `json:"workers"`
	Jobs       map[Status]int `json:"jobs"`
	QueueDepth int            `json:"queue_depth"`
}

// GetStats returns aggregate worker and job counts.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	counts := d.table.countsByStatus()
	return Stats{
		Workers:    len(d.registry.workers),
		Jobs:       counts,
		QueueDepth: counts[StatusPending],
	}
}

// SweepPending retries assignment for every pending job and returns how many
// were assigned. Submission, registration and terminal heartbeats already
// sweep implicitly; this is the explicit hook.
func (d *Dispatcher) SweepPending() int {
	var events []Snapshot

	d.mu.Lock()
	assigned := d.sweepLocked(&events)
	d.mu.Unlock()

	d.publish(events)
	return assigned
}

// CleanupTerminal evicts terminal jobs whose completion is older than the
// retention window and returns how many were removed.
func (d *Dispatcher) CleanupTerminal(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0

	d.mu.Lock()
	for id, job := range d.table.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			d.table.remove(id)
			removed++
		}
	}
	d.mu.Unlock()

	if removed > 0 {
		d.log.Info("terminal jobs evicted", "count", removed, "older_than", olderThan.String())
	}
	return removed
}

// RunCleanup periodically evicts old terminal jobs. Blocks until ctx is
// cancelled.
func (d *Dispatcher) RunCleanup(ctx context.Context) error {
	d.log.Info("cleanup loop started",
		"interval", d.cfg.CleanupInterval.String(),
		"retention", d.cfg.TerminalRetention.String(),
	)
	ticker := time.NewTicker(d.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("cleanup loop stopped")
			return nil
		case <-ticker.C:
			d.CleanupTerminal(d.cfg.TerminalRetention)
		}
	}
}

// sweepLocked drains the pending queue in priority order and tries to assign
// each job against the full current worker set. Unassigned jobs go back on
// the queue. Caller holds the lock.
func (d *Dispatcher) sweepLocked(events *[]Snapshot) int {
	assigned := 0
	var unassigned []*Job

	for d.pending.Len() > 0 {
		job := d.pending.pop()
		if job.Status != StatusPending {
			// Cancelled while queued; drop silently.
			continue
		}
		if d.assignLocked(job, events) {
			assigned++
		} else {
			unassigned = append(unassigned, job)
		}
	}
	for _, j := range unassigned {
		d.pending.push(j)
	}
	return assigned
}

// assignLocked hands a pending job to the first worker in registration order
// with the required capability and spare capacity. Assignment is synchronous
// bookkeeping only: the job moves PENDING -> ASSIGNED -> RUNNING immediately,
// and the worker picks it up from its next heartbeat response.
func (d *Dispatcher) assignLocked(job *Job, events *[]Snapshot) bool {
	required := job.Scene.RequiredEngine()

	for _, w := range d.registry.ordered() {
		if !w.canRun(required) || !d.registry.hasCapacity(w) {
			continue
		}

		now := time.Now().UTC()
		w.Assigned = append(w.Assigned, job.ID)
		job.WorkerID = w.ID

		job.Status = StatusAssigned
		*events = append(*events, job.snapshot())

		job.Status = StatusRunning
		job.StartedAt = &now
		*events = append(*events, job.snapshot())

		d.log.Info("job assigned",
			"job_id", job.ID,
			"worker_id", w.ID,
			"engine", string(required),
		)
		return true
	}
	return false
}

// applyUpdateLocked applies one heartbeat status update. known is false when
// the job does not exist or is not owned by the reporting worker; applied is
// true only when the job actually changed. Updates against terminal jobs are
// ignored with a warning: heartbeats are best-effort and may arrive late or
// duplicated.
func (d *Dispatcher) applyUpdateLocked(w *Worker, u StatusUpdate, events *[]Snapshot) (applied, known bool) {
	job, ok := d.table.get(u.JobID)
	if !ok {
		d.log.Warn("heartbeat update for unknown job", "worker_id", w.ID, "job_id", u.JobID)
		return false, false
	}
	if job.WorkerID != w.ID {
		d.log.Warn("heartbeat update from non-owner",
			"worker_id", w.ID,
			"job_id", u.JobID,
			"owner", job.WorkerID,
		)
		return false, false
	}
	if job.Status.Terminal() {
		d.log.Warn("ignoring update for terminal job",
			"job_id", u.JobID,
			"status", string(job.Status),
			"reported", string(u.Status),
		)
		return false, true
	}

	switch u.Status {
	case StatusRunning:
		if !canTransition(job.Status, StatusRunning) {
			d.log.Warn("invalid transition reported",
				"job_id", u.JobID,
				"from", string(job.Status),
				"to", string(u.Status),
			)
			return false, true
		}
		if job.StartedAt == nil {
			now := time.Now().UTC()
			job.Status = StatusRunning
			job.StartedAt = &now
			job.Progress = clampProgress(u.Progress)
			*events = append(*events, job.snapshot())
			return true, true
		}
		// Progress is monotonically non-decreasing; stale reports are no-ops.
		if p := clampProgress(u.Progress); p > job.Progress {
			job.Progress = p
			*events = append(*events, job.snapshot())
			return true, true
		}
		return false, true

	case StatusSucceeded, StatusFailed:
		if !canTransition(job.Status, u.Status) {
			d.log.Warn("invalid transition reported",
				"job_id", u.JobID,
				"from", string(job.Status),
				"to", string(u.Status),
			)
			return false, true
		}
		now := time.Now().UTC()
		job.Status = u.Status
		job.CompletedAt = &now
		if u.Status == StatusSucceeded {
			job.Progress = 100
			job.Result = u.Result
		} else {
			job.Error = u.Error
		}
		w.detach(job.ID)
		*events = append(*events, job.snapshot())
		d.log.Info("job finished",
			"job_id", job.ID,
			"worker_id", w.ID,
			"status", string(u.Status),
		)
		return true, true

	default:
		d.log.Warn("worker reported unsupported status",
			"worker_id", w.ID,
			"job_id", u.JobID,
			"status", string(u.Status),
		)
		return false, true
	}
}

func (d *Dispatcher) publish(events []Snapshot) {
	for _, e := range events {
		d.notifier.Publish(e)
	}
}
