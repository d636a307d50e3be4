package worker

import (
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"renderhub/internal/artifacts"
	"renderhub/internal/dispatch"
	"renderhub/internal/httpapi"
	"renderhub/internal/httpapi/handlers"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/renderer"
	"renderhub/internal/scene"
	"renderhub/internal/ws"
)

// fakeRenderer lets tests control how each render ends.
type fakeRenderer struct {
	mu      sync.Mutex
	calls   []renderer.Request
	render  func(ctx context.Context, req renderer.Request) (renderer.Result, error)
	started chan string
}

func (f *fakeRenderer) Render(ctx context.Context, req renderer.Request) (renderer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- req.JobID
	}
	return f.render(ctx, req)
}

func newTestHub(t *testing.T) (*httptest.Server, *dispatch.Dispatcher) {
	t.Helper()

	log := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	d := dispatch.New(log, dispatch.Config{})
	hub := ws.NewHub(log)
	d.Subscribe(hub.Notify)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.Deps{
			Dispatcher: d,
			Hub:        hub,
			Store:      artifacts.NewLocalFS(t.TempDir()),
			Log:        log,
		},
		Log:                log,
		CORSAllowedOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)
	return srv, d
}

func startWorker(t *testing.T, srv *httptest.Server, fr *fakeRenderer) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := Run(ctx, Deps{
			API:      NewAPIClient(srv.URL),
			Renderer: fr,
			Log:      logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard}),

			WorkerID:     "W1",
			Capabilities: []string{"remotion", "manim"},

			HeartbeatInterval:    10 * time.Millisecond,
			MaxConcurrentRenders: 2,
		})
		assert.NoError(t, err)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker did not stop")
		}
	})
	return cancel
}

func waitForStatus(t *testing.T, d *dispatch.Dispatcher, jobID string, want dispatch.Status) dispatch.Snapshot {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := d.GetJob(jobID)
		require.NoError(t, err)
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := d.GetJob(jobID)
	t.Fatalf("job %s never reached %s, last status %s", jobID, want, snap.Status)
	return dispatch.Snapshot{}
}

func TestWorkerRendersAssignedJob(t *testing.T) {
	srv, d := newTestHub(t)

	fr := &fakeRenderer{
		render: func(ctx context.Context, req renderer.Request) (renderer.Result, error) {
			return renderer.Result{OutputPath: req.OutputPath}, nil
		},
	}
	startWorker(t, srv, fr)

	// Give the worker a beat to register, then submit.
	require.Eventually(t, func() bool {
		_, err := d.GetWorker("W1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := d.SubmitJob("an intro card", scene.Document{
		Timeline: []scene.TimelineEntry{{Engine: "manim", Kind: "clip"}},
	}, "jobs/intro.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusRunning, snap.Status)

	final := waitForStatus(t, d, snap.JobID, dispatch.StatusSucceeded)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, "jobs/intro.mp4", final.ResultPath)

	fr.mu.Lock()
	defer fr.mu.Unlock()
	require.Len(t, fr.calls, 1)
	assert.Equal(t, snap.JobID, fr.calls[0].JobID)
	assert.Equal(t, scene.EngineManim, fr.calls[0].Engine)
}

func TestWorkerReportsRenderFailure(t *testing.T) {
	srv, d := newTestHub(t)

	fr := &fakeRenderer{
		render: func(ctx context.Context, req renderer.Request) (renderer.Result, error) {
			return renderer.Result{}, context.DeadlineExceeded
		},
	}
	startWorker(t, srv, fr)

	require.Eventually(t, func() bool {
		_, err := d.GetWorker("W1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := d.SubmitJob("a broken scene", scene.Document{
		Timeline: []scene.TimelineEntry{{Engine: "remotion", Kind: "clip"}},
	}, "", 0)
	require.NoError(t, err)

	final := waitForStatus(t, d, snap.JobID, dispatch.StatusFailed)
	assert.NotEmpty(t, final.Error)
}

func TestWorkerAbortsCancelledRender(t *testing.T) {
	srv, d := newTestHub(t)

	fr := &fakeRenderer{
		started: make(chan string, 1),
		render: func(ctx context.Context, req renderer.Request) (renderer.Result, error) {
			<-ctx.Done()
			return renderer.Result{}, ctx.Err()
		},
	}
	startWorker(t, srv, fr)

	require.Eventually(t, func() bool {
		_, err := d.GetWorker("W1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := d.SubmitJob("a long render", scene.Document{
		Timeline: []scene.TimelineEntry{{Engine: "manim", Kind: "clip"}},
	}, "", 0)
	require.NoError(t, err)

	select {
	case <-fr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("render never started")
	}

	_, err = d.CancelJob(snap.JobID)
	require.NoError(t, err)

	// The worker notices the withdrawn assignment and the job stays
	// CANCELLED; the aborted render reports nothing.
	final := waitForStatus(t, d, snap.JobID, dispatch.StatusCancelled)
	assert.Equal(t, dispatch.StatusCancelled, final.Status)

	time.Sleep(50 * time.Millisecond)
	got, err := d.GetJob(snap.JobID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCancelled, got.Status)
}

func TestWorkerUnregistersOnShutdown(t *testing.T) {
	srv, d := newTestHub(t)

	fr := &fakeRenderer{
		render: func(ctx context.Context, req renderer.Request) (renderer.Result, error) {
			return renderer.Result{}, nil
		},
	}
	cancel := startWorker(t, srv, fr)

	require.Eventually(t, func() bool {
		_, err := d.GetWorker("W1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool {
		_, err := d.GetWorker("W1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
