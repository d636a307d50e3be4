package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"renderhub/internal/dispatch"
	"renderhub/internal/httpkit"
	"renderhub/internal/scene"
)

type SubmitJobRequest struct {
	Prompt     string         `json:"prompt"`
	Scene      scene.Document `json:"scene"`
	OutputPath string         `json:"output_path"`
	Priority   int            `json:"priority"`
}

func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "invalid json body", nil)
		return
	}
	if len(req.Scene.Timeline) == 0 {
		httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "scene.timeline must not be empty",
			map[string]any{"field": "scene.timeline"})
		return
	}

	snap, err := h.dispatcher.SubmitJob(strings.TrimSpace(req.Prompt), req.Scene, req.OutputPath, req.Priority)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	httpkit.WriteJSON(w, 201, map[string]any{"job": snap})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))

	var status dispatch.Status
	if raw != "" {
		parsed, ok := dispatch.ParseStatus(strings.ToUpper(raw))
		if !ok {
			httpkit.WriteErr(w, 400, "VALIDATION_ERROR", "unknown status filter",
				map[string]any{"status": raw})
			return
		}
		status = parsed
	}

	jobs := h.dispatcher.ListJobs(status)
	httpkit.WriteJSON(w, 200, map[string]any{"jobs": jobs})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.dispatcher.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"job": snap})
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	snap, err := h.dispatcher.CancelJob(chi.URLParam(r, "jobID"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, 200, map[string]any{"job": snap})
}

// GetJobArtifact streams the rendered output of a succeeded job.
func (h *Handler) GetJobArtifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	snap, err := h.dispatcher.GetJob(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if snap.Status != dispatch.StatusSucceeded || snap.ResultPath == "" {
		httpkit.WriteErr(w, 409, "CONFLICT", "job has no artifact",
			map[string]any{"job_id": jobID, "status": string(snap.Status)})
		return
	}

	rc, contentType, size, err := h.store.Open(r.Context(), snap.ResultPath)
	if err != nil {
		h.log.Error("artifact open failed", "job_id", jobID, "key", snap.ResultPath, "error", err.Error())
		httpkit.WriteErr(w, 404, "NOT_FOUND", "artifact not found", map[string]any{"job_id": jobID})
		return
	}
	defer rc.Close()

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(200)
	_, _ = io.Copy(w, rc)
}

// StreamJobEvents upgrades to a WebSocket and pushes every status change of
// one job, starting with its current state.
func (h *Handler) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	snap, err := h.dispatcher.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	h.hub.ServeJob(w, r, snap)
}
