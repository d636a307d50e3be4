package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"renderhub/internal/dispatch"
)

// APIClient is the worker-side client for the hub's worker endpoints.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type registerRequest struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities"`
}

type heartbeatRequest struct {
	Updates []dispatch.StatusUpdate `json:"updates"`
}

func (c *APIClient) Register(ctx context.Context, workerID string, capabilities []string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/workers",
		registerRequest{WorkerID: workerID, Capabilities: capabilities}, nil)
}

func (c *APIClient) Unregister(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/workers/"+workerID, nil, nil)
}

func (c *APIClient) Heartbeat(ctx context.Context, workerID string, updates []dispatch.StatusUpdate) (dispatch.HeartbeatResult, error) {
	var res dispatch.HeartbeatResult
	err := c.do(ctx, http.MethodPost, "/api/v1/workers/"+workerID+"/heartbeat",
		heartbeatRequest{Updates: updates}, &res)
	return res, err
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s %s: http %d: %s", method, path, res.StatusCode, bytes.TrimSpace(msg))
	}

	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}
