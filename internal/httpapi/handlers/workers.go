package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"renderhub/internal/dispatch"
	"renderhub/internal/httpkit"
)

type RegisterWorkerRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
}

type HeartbeatRequest struct {
	Updates []dispatch.StatusUpdate `json:"updates"`
}

func (h *Handler) PostWorker(w http.ResponseWriter, r *http.Request) {
	var req RegisterWorkerRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	snap, err := h.dispatcher.RegisterWorker(req.WorkerID, req.Capabilities)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 201, map[string]any{"worker": snap})
}

func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	httpkit.WriteJSON(w, 200, map[string]any{"workers": h.dispatcher.ListWorkers()})
}

func (h *Handler) GetWorker(w http.ResponseWriter, r *http.Request) {
	snap, err := h.dispatcher.GetWorker(chi.URLParam(r, "workerID"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"worker": snap})
}

func (h *Handler) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.UnregisterWorker(chi.URLParam(r, "workerID")); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	w.WriteHeader(204)
}

// Heartbeat applies the worker's status updates and returns its current
// assignments.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}

	res, err := h.dispatcher.Heartbeat(chi.URLParam(r, "workerID"), req.Updates)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, res)
}
