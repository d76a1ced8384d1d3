package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opsforge/fleet-orchestrator/web/api"
)

// client is a thin HTTP client for the orchestrator API
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusResponse mirrors GET /api/status
type StatusResponse struct {
	ActiveBatches int            `json:"active_batches"`
	Batches       map[string]int `json:"batches"`
	Runners       int            `json:"runners"`
	QueuedRuns    int            `json:"queued_runs"`
}

func (c *client) Submit(playbook string, targets []string, strategy string, limit int, stopOnFailure bool) (*api.BatchResponse, error) {
	req := api.BatchRequest{
		Playbook:         playbook,
		Targets:          targets,
		Strategy:         strategy,
		ConcurrencyLimit: limit,
		StopOnFailure:    stopOnFailure,
	}
	var resp api.BatchResponse
	if err := c.post("/api/batches", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.get("/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) ListBatches(limit int) ([]api.BatchResponse, error) {
	var resp []api.BatchResponse
	path := "/api/batches?limit=" + strconv.Itoa(limit)
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) GetBatch(id string) (*api.BatchDetailResponse, error) {
	var resp api.BatchDetailResponse
	if err := c.get("/api/batches/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *client) CancelBatch(id string) error {
	return c.post("/api/batches/"+url.PathEscape(id)+"/cancel", nil, nil)
}

func (c *client) ChildLogs(batchID, childID string, start int) ([]api.LogLineResponse, error) {
	path := fmt.Sprintf("/api/batches/%s/children/%s/logs",
		url.PathEscape(batchID), url.PathEscape(childID))
	if start > 0 {
		path += "?start=" + strconv.Itoa(start)
	}
	var resp []api.LogLineResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *client) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *client) post(path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("is the server running? %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
