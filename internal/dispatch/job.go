package dispatch

import (
	"time"

	"renderhub/internal/scene"
)

// Status is the lifecycle state of a render job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAssigned  Status = "ASSIGNED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes a status string. ok is false for unknown values.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusPending, StatusAssigned, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return Status(s), true
	default:
		return "", false
	}
}

// canTransition encodes the state machine:
// PENDING -> ASSIGNED -> RUNNING -> {SUCCEEDED | FAILED}, CANCELLED reachable
// from any non-terminal state. RUNNING -> RUNNING covers progress refreshes.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusAssigned || to == StatusCancelled
	case StatusAssigned:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusRunning || to == StatusSucceeded || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Job is the authoritative in-memory record of one render request.
// It is owned by the Dispatcher; every access happens under its lock.
// Everything outside the package sees only Snapshots.
type Job struct {
	ID         string
	Prompt     string
	Scene      scene.Document
	OutputPath string
	Priority   int

	Status      Status
	Progress    int
	WorkerID    string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      map[string]any
	Error       string

	// seq is the submission sequence number, the tiebreaker for equal
	// priorities and the stable ordering for listings.
	seq uint64
}

// Snapshot is an immutable point-in-time copy of a Job, returned from
// queries and handed to notification subscribers.
type Snapshot struct {
	JobID       string         `json:"job_id"`
	Prompt      string         `json:"prompt"`
	Scene       scene.Document `json:"scene"`
	OutputPath  string         `json:"output_path"`
	Priority    int            `json:"priority"`
	Engine      scene.Engine   `json:"engine"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	WorkerID    string         `json:"worker_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	ResultPath  string         `json:"result_path,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func (j *Job) snapshot() Snapshot {
	s := Snapshot{
		JobID:      j.ID,
		Prompt:     j.Prompt,
		Scene:      j.Scene,
		OutputPath: j.OutputPath,
		Priority:   j.Priority,
		Engine:     j.Scene.RequiredEngine(),
		Status:     j.Status,
		Progress:   j.Progress,
		WorkerID:   j.WorkerID,
		CreatedAt:  j.CreatedAt,
		Error:      j.Error,
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		s.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		s.CompletedAt = &t
	}
	if j.Result != nil {
		s.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			s.Result[k] = v
		}
	}
	if j.Status == StatusSucceeded {
		s.ResultPath = j.OutputPath
		if p, ok := j.Result["output_path"].(string); ok && p != "" {
			s.ResultPath = p
		}
	}
	return s
}

// StatusUpdate is one entry of a worker heartbeat report.
type StatusUpdate struct {
	JobID    string         `json:"job_id"`
	Status   Status         `json:"status"`
	Progress int            `json:"progress"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
