package ws

import (
	"io"
	"testing"
	"time"

	"renderhub/internal/dispatch"
	"renderhub/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

func TestHubFanOut(t *testing.T) {
	h := NewHub(testLogger())

	ch, unsub := h.Subscribe("job-1")
	defer unsub()

	h.Notify(dispatch.Snapshot{JobID: "job-1", Status: dispatch.StatusRunning, Progress: 40})
	h.Notify(dispatch.Snapshot{JobID: "job-other", Status: dispatch.StatusRunning})

	select {
	case snap := <-ch:
		if snap.Progress != 40 {
			t.Errorf("expected progress 40, got %d", snap.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	select {
	case snap := <-ch:
		t.Errorf("received snapshot for another job: %s", snap.JobID)
	default:
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub(testLogger())

	ch, unsub := h.Subscribe("job-1")
	unsub()

	h.Notify(dispatch.Snapshot{JobID: "job-1", Status: dispatch.StatusRunning})

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub(testLogger())

	_, unsub := h.Subscribe("job-1")
	defer unsub()

	// Nobody drains; publishing far past the buffer must not block.
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Notify(dispatch.Snapshot{JobID: "job-1", Status: dispatch.StatusRunning, Progress: i})
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full subscriber channel")
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	h := NewHub(testLogger())

	ch1, unsub1 := h.Subscribe("job-1")
	defer unsub1()
	ch2, unsub2 := h.Subscribe("job-1")
	defer unsub2()

	h.Notify(dispatch.Snapshot{JobID: "job-1", Status: dispatch.StatusSucceeded})

	for i, ch := range []<-chan dispatch.Snapshot{ch1, ch2} {
		select {
		case snap := <-ch:
			if snap.Status != dispatch.StatusSucceeded {
				t.Errorf("subscriber %d: expected SUCCEEDED, got %s", i, snap.Status)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}
