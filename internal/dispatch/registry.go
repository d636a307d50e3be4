package dispatch

import (
	"sort"
	"time"

	"renderhub/internal/scene"
)

// Worker is the registry's record of a connected render worker. Owned by the
// Dispatcher; all access under its lock.
type Worker struct {
	ID            string
	Capabilities  map[scene.Engine]struct{}
	Assigned      []string
	LastHeartbeat time.Time

	// seq is the registration sequence number. Assignment enumerates
	// workers in seq order, which keeps first-fit deterministic within a
	// process lifetime.
	seq uint64
}

func (w *Worker) canRun(eng scene.Engine) bool {
	_, ok := w.Capabilities[eng]
	return ok
}

func (w *Worker) detach(jobID string) {
	for i, id := range w.Assigned {
		if id == jobID {
			w.Assigned = append(w.Assigned[:i], w.Assigned[i+1:]...)
			return
		}
	}
}

// WorkerSnapshot is the read model of a worker returned from queries.
type WorkerSnapshot struct {
	WorkerID      string    `json:"worker_id"`
	Capabilities  []string  `json:"capabilities"`
	AssignedJobs  []string  `json:"assigned_jobs"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (w *Worker) snapshot() WorkerSnapshot {
	caps := make([]string, 0, len(w.Capabilities))
	for eng := range w.Capabilities {
		caps = append(caps, string(eng))
	}
	sort.Strings(caps)

	assigned := make([]string, len(w.Assigned))
	copy(assigned, w.Assigned)

	return WorkerSnapshot{
		WorkerID:      w.ID,
		Capabilities:  caps,
		AssignedJobs:  assigned,
		LastHeartbeat: w.LastHeartbeat,
	}
}

// workerRegistry is the bookkeeping for connected workers. Not safe for
// concurrent use; the Dispatcher serializes access.
type workerRegistry struct {
	workers     map[string]*Worker
	nextSeq     uint64
	maxAssigned int
}

func newWorkerRegistry(maxAssigned int) *workerRegistry {
	return &workerRegistry{
		workers:     make(map[string]*Worker),
		maxAssigned: maxAssigned,
	}
}

// register creates or replaces the worker entry. Replacing resets the
// assigned-job list: jobs the previous incarnation held become orphaned,
// exactly as with unregister.
func (r *workerRegistry) register(id string, caps []scene.Engine, now time.Time) *Worker {
	capSet := make(map[scene.Engine]struct{}, len(caps))
	for _, c := range caps {
		capSet[c] = struct{}{}
	}

	r.nextSeq++
	w := &Worker{
		ID:            id,
		Capabilities:  capSet,
		Assigned:      nil,
		LastHeartbeat: now,
		seq:           r.nextSeq,
	}
	r.workers[id] = w
	return w
}

func (r *workerRegistry) unregister(id string) (*Worker, bool) {
	w, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
	}
	return w, ok
}

func (r *workerRegistry) get(id string) (*Worker, bool) {
	w, ok := r.workers[id]
	return w, ok
}

// ordered returns workers in registration order.
func (r *workerRegistry) ordered() []*Worker {
	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *workerRegistry) hasCapacity(w *Worker) bool {
	return len(w.Assigned) < r.maxAssigned
}
