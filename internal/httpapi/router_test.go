package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"renderhub/internal/artifacts"
	"renderhub/internal/dispatch"
	"renderhub/internal/httpapi/handlers"
	"renderhub/internal/pkg/logger"
	"renderhub/internal/scene"
	"renderhub/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *dispatch.Dispatcher, artifacts.Store) {
	t.Helper()

	log := logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
	d := dispatch.New(log, dispatch.Config{})
	hub := ws.NewHub(log)
	d.Subscribe(hub.Notify)
	store := artifacts.NewLocalFS(t.TempDir())

	srv := httptest.NewServer(NewRouter(Deps{
		Handlers: handlers.Deps{
			Dispatcher: d,
			Hub:        hub,
			Store:      store,
			Log:        log,
		},
		Log:                log,
		CORSAllowedOrigins: []string{"*"},
	}))
	t.Cleanup(srv.Close)
	return srv, d, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })

	var out map[string]any
	if res.Header.Get("Content-Type") == "application/json" {
		_ = json.NewDecoder(res.Body).Decode(&out)
	}
	return res, out
}

func submitBody(engine string) map[string]any {
	return map[string]any{
		"prompt":      "a cat on a skateboard",
		"scene":       map[string]any{"timeline": []map[string]any{{"engine": engine, "kind": "clip"}}},
		"output_path": "jobs/out.mp4",
		"priority":    0,
	}
}

func TestPostJobAndGetJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, body := doJSON(t, "POST", srv.URL+"/api/v1/jobs", submitBody("manim"))
	if res.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	job := body["job"].(map[string]any)
	if job["status"] != "PENDING" {
		t.Errorf("expected PENDING with no workers, got %v", job["status"])
	}
	jobID := job["job_id"].(string)

	res, body = doJSON(t, "GET", srv.URL+"/api/v1/jobs/"+jobID, nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if body["job"].(map[string]any)["job_id"] != jobID {
		t.Error("GET returned a different job")
	}
}

func TestPostJobRejectsEmptyTimeline(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, body := doJSON(t, "POST", srv.URL+"/api/v1/jobs", map[string]any{
		"prompt": "x",
		"scene":  map[string]any{"timeline": []map[string]any{}},
	})
	if res.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", res.StatusCode)
	}
	code := body["error"].(map[string]any)["code"]
	if code != "VALIDATION_ERROR" {
		t.Errorf("unexpected error code %v", code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, body := doJSON(t, "GET", srv.URL+"/api/v1/jobs/nope", nil)
	if res.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	if body["error"].(map[string]any)["code"] != "NOT_FOUND" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestWorkerRegistrationAndAssignmentFlow(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, _ := doJSON(t, "POST", srv.URL+"/api/v1/workers", map[string]any{
		"worker_id":    "W1",
		"capabilities": []string{"remotion", "manim"},
	})
	if res.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", res.StatusCode)
	}

	res, body := doJSON(t, "POST", srv.URL+"/api/v1/jobs", submitBody("manim"))
	if res.StatusCode != 201 {
		t.Fatalf("submit: expected 201, got %d", res.StatusCode)
	}
	job := body["job"].(map[string]any)
	if job["status"] != "RUNNING" {
		t.Errorf("expected immediate assignment to RUNNING, got %v", job["status"])
	}
	if job["worker_id"] != "W1" {
		t.Errorf("expected worker W1, got %v", job["worker_id"])
	}
	jobID := job["job_id"].(string)

	// The heartbeat response carries the assignment.
	res, body = doJSON(t, "POST", srv.URL+"/api/v1/workers/W1/heartbeat", map[string]any{
		"updates": []map[string]any{},
	})
	if res.StatusCode != 200 {
		t.Fatalf("heartbeat: expected 200, got %d", res.StatusCode)
	}
	assigned := body["assigned"].([]any)
	if len(assigned) != 1 || assigned[0].(map[string]any)["job_id"] != jobID {
		t.Fatalf("expected job %s in assigned set, got %v", jobID, assigned)
	}

	// Completion via heartbeat update.
	res, _ = doJSON(t, "POST", srv.URL+"/api/v1/workers/W1/heartbeat", map[string]any{
		"updates": []map[string]any{{
			"job_id":   jobID,
			"status":   "SUCCEEDED",
			"progress": 100,
			"result":   map[string]any{"output_path": "jobs/out.mp4"},
		}},
	})
	if res.StatusCode != 200 {
		t.Fatalf("heartbeat: expected 200, got %d", res.StatusCode)
	}

	_, body = doJSON(t, "GET", srv.URL+"/api/v1/jobs/"+jobID, nil)
	if body["job"].(map[string]any)["status"] != "SUCCEEDED" {
		t.Errorf("expected SUCCEEDED, got %v", body["job"].(map[string]any)["status"])
	}
}

func TestCancelJob(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, body := doJSON(t, "POST", srv.URL+"/api/v1/jobs", submitBody("blender"))
	jobID := body["job"].(map[string]any)["job_id"].(string)

	res, body := doJSON(t, "DELETE", srv.URL+"/api/v1/jobs/"+jobID, nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if body["job"].(map[string]any)["status"] != "CANCELLED" {
		t.Errorf("expected CANCELLED, got %v", body["job"])
	}

	// Second cancel conflicts.
	res, body = doJSON(t, "DELETE", srv.URL+"/api/v1/jobs/"+jobID, nil)
	if res.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", res.StatusCode)
	}
	if body["error"].(map[string]any)["code"] != "CONFLICT" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestUnregisterWorker(t *testing.T) {
	srv, _, _ := newTestServer(t)

	doJSON(t, "POST", srv.URL+"/api/v1/workers", map[string]any{
		"worker_id":    "W1",
		"capabilities": []string{"ffmpeg"},
	})

	res, _ := doJSON(t, "DELETE", srv.URL+"/api/v1/workers/W1", nil)
	if res.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}

	res, _ = doJSON(t, "DELETE", srv.URL+"/api/v1/workers/W1", nil)
	if res.StatusCode != 404 {
		t.Fatalf("expected 404 for unknown worker, got %d", res.StatusCode)
	}
}

func TestHeartbeatUnknownWorkerIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, _ := doJSON(t, "POST", srv.URL+"/api/v1/workers/ghost/heartbeat", map[string]any{
		"updates": []map[string]any{},
	})
	if res.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestGetJobArtifact(t *testing.T) {
	srv, d, store := newTestServer(t)

	if _, err := d.RegisterWorker("W1", []string{"remotion"}); err != nil {
		t.Fatal(err)
	}
	snap, err := d.SubmitJob("intro", sceneDoc("remotion"), "jobs/intro.mp4", 0)
	if err != nil {
		t.Fatal(err)
	}

	// Artifact before completion conflicts.
	res, _ := doJSON(t, "GET", srv.URL+"/api/v1/jobs/"+snap.JobID+"/artifact", nil)
	if res.StatusCode != 409 {
		t.Fatalf("expected 409 before completion, got %d", res.StatusCode)
	}

	if _, err := store.Put(t.Context(), artifacts.PutInput{
		Key:    "jobs/intro.mp4",
		Reader: bytes.NewReader([]byte("rendered bytes")),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Heartbeat("W1", []dispatch.StatusUpdate{{
		JobID:    snap.JobID,
		Status:   dispatch.StatusSucceeded,
		Progress: 100,
		Result:   map[string]any{"output_path": "jobs/intro.mp4"},
	}}); err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest("GET", srv.URL+"/api/v1/jobs/"+snap.JobID+"/artifact", nil)
	res2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res2.StatusCode)
	}
	data, _ := io.ReadAll(res2.Body)
	if string(data) != "rendered bytes" {
		t.Errorf("unexpected artifact body %q", data)
	}
}

func TestListJobsStatusFilter(t *testing.T) {
	srv, d, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		if _, err := d.SubmitJob(fmt.Sprintf("job %d", i), sceneDoc("manim"), "", i); err != nil {
			t.Fatal(err)
		}
	}

	res, body := doJSON(t, "GET", srv.URL+"/api/v1/jobs?status=pending", nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if jobs := body["jobs"].([]any); len(jobs) != 3 {
		t.Errorf("expected 3 pending jobs, got %d", len(jobs))
	}

	res, _ = doJSON(t, "GET", srv.URL+"/api/v1/jobs?status=bogus", nil)
	if res.StatusCode != 400 {
		t.Fatalf("expected 400 for bad filter, got %d", res.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv, d, _ := newTestServer(t)

	if _, err := d.RegisterWorker("W1", []string{"remotion"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.SubmitJob("a", sceneDoc("blender"), "", 0); err != nil {
		t.Fatal(err)
	}

	res, body := doJSON(t, "GET", srv.URL+"/api/v1/stats", nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if body["workers"].(float64) != 1 {
		t.Errorf("expected 1 worker, got %v", body["workers"])
	}
	if body["queue_depth"].(float64) != 1 {
		t.Errorf("expected queue depth 1, got %v", body["queue_depth"])
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, body := doJSON(t, "GET", srv.URL+"/health", nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected health body %v", body)
	}

	res, body = doJSON(t, "GET", srv.URL+"/health?deep=true", nil)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	checks := body["checks"].(map[string]any)
	if checks["storage"].(map[string]any)["provider"] != "localfs" {
		t.Errorf("unexpected checks %v", checks)
	}
}

func TestStreamJobEvents(t *testing.T) {
	srv, d, _ := newTestServer(t)

	snap, err := d.SubmitJob("a title card", sceneDoc("remotion"), "", 0)
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/" + snap.JobID + "/events"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer res.Body.Close()

	// First frame is the current state.
	var first dispatch.Snapshot
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Status != dispatch.StatusPending {
		t.Errorf("expected PENDING initial snapshot, got %s", first.Status)
	}

	if _, err := d.CancelJob(snap.JobID); err != nil {
		t.Fatal(err)
	}

	var second dispatch.Snapshot
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&second); err != nil {
		t.Fatalf("read cancellation snapshot: %v", err)
	}
	if second.Status != dispatch.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", second.Status)
	}

	// Terminal state closes the stream from the server side.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected close after terminal snapshot")
	}
}

func sceneDoc(engine string) scene.Document {
	return scene.Document{Timeline: []scene.TimelineEntry{{Engine: engine, Kind: "clip"}}}
}
