// Package renderer talks to the engine sidecars over HTTP. Each sidecar
// wraps one render engine (remotion, blender, manim, ffmpeg) behind the
// same POST /render contract.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"renderhub/internal/scene"
)

// Request is the payload posted to a sidecar.
type Request struct {
	JobID      string         `json:"job_id"`
	Engine     scene.Engine   `json:"engine"`
	Scene      scene.Document `json:"scene"`
	OutputPath string         `json:"output_path"`
}

// Result is the sidecar's response once the render finishes.
type Result struct {
	OutputPath string `json:"output_path"`
}

type Client interface {
	Render(ctx context.Context, req Request) (Result, error)
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		// Renders are long-running; the per-request context handles
		// cancellation before this timeout ever fires.
		client: &http.Client{Timeout: 30 * time.Minute},
	}
}

func (c *HTTPClient) Render(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Result{}, fmt.Errorf("renderer http %d", res.StatusCode)
	}

	var out Result
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Result{}, err
	}
	if out.OutputPath == "" {
		out.OutputPath = req.OutputPath
	}
	return out, nil
}
