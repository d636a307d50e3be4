package dispatch

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"renderhub/internal/scene"
)

// jobTable is the in-memory store of every job submitted since startup,
// until the cleanup sweep evicts terminal entries. Not safe for concurrent
// use; the Dispatcher serializes access.
type jobTable struct {
	jobs    map[string]*Job
	nextSeq uint64
}

func newJobTable() *jobTable {
	return &jobTable{jobs: make(map[string]*Job)}
}

func (t *jobTable) create(prompt string, doc scene.Document, outputPath string, priority int, now time.Time) *Job {
	t.nextSeq++
	job := &Job{
		ID:         uuid.NewString(),
		Prompt:     prompt,
		Scene:      doc,
		OutputPath: outputPath,
		Priority:   priority,
		Status:     StatusPending,
		CreatedAt:  now,
		seq:        t.nextSeq,
	}
	t.jobs[job.ID] = job
	return job
}

func (t *jobTable) get(id string) (*Job, bool) {
	j, ok := t.jobs[id]
	return j, ok
}

func (t *jobTable) remove(id string) {
	delete(t.jobs, id)
}

// listByStatus returns jobs with the given status; the empty status matches
// everything. PENDING jobs come out priority-descending then oldest-first,
// everything else in creation order.
func (t *jobTable) listByStatus(status Status) []*Job {
	out := make([]*Job, 0, len(t.jobs))
	for _, j := range t.jobs {
		if status == "" || j.Status == status {
			out = append(out, j)
		}
	}
	if status == StatusPending {
		sort.Slice(out, func(i, k int) bool {
			if out[i].Priority != out[k].Priority {
				return out[i].Priority > out[k].Priority
			}
			return out[i].seq < out[k].seq
		})
	} else {
		sort.Slice(out, func(i, k int) bool { return out[i].seq < out[k].seq })
	}
	return out
}

func (t *jobTable) countsByStatus() map[Status]int {
	counts := map[Status]int{
		StatusPending:   0,
		StatusAssigned:  0,
		StatusRunning:   0,
		StatusSucceeded: 0,
		StatusFailed:    0,
		StatusCancelled: 0,
	}
	for _, j := range t.jobs {
		counts[j.Status]++
	}
	return counts
}
