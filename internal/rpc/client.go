package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client talks to a spectre daemon over HTTP. It is the transport used
// by the CLI subcommands; embedders holding an engine in-process do not
// need it.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for the daemon at baseURL
// (e.g. "http://127.0.0.1:4822").
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Connect verifies the daemon is reachable, retrying briefly so a
// just-started daemon has time to bind its listener.
func (c *Client) Connect() (HealthResponse, error) {
	var health HealthResponse
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	err := backoff.Retry(func() error {
		var err error
		health, err = c.Health()
		return err
	}, bo)
	if err != nil {
		return HealthResponse{}, fmt.Errorf("connect %s: %w", c.baseURL, err)
	}
	return health, nil
}

// Health fetches the daemon health summary.
func (c *Client) Health() (HealthResponse, error) {
	var out HealthResponse
	err := c.do(http.MethodGet, "/healthz", nil, &out)
	return out, err
}

// Ingest applies one mutation and returns the emitted view updates.
func (c *Client) Ingest(req IngestRequest) (IngestResponse, error) {
	var out IngestResponse
	err := c.do(http.MethodPost, "/v1/ingest", req, &out)
	return out, err
}

// IngestBatch applies an ordered list of mutations.
func (c *Client) IngestBatch(reqs []IngestRequest) (IngestResponse, error) {
	var out IngestResponse
	err := c.do(http.MethodPost, "/v1/ingest/batch", reqs, &out)
	return out, err
}

// RegisterView registers a view from a raw registration payload and
// returns the optional first-run update.
func (c *Client) RegisterView(payload json.RawMessage) (RegisterResponse, error) {
	var out RegisterResponse
	err := c.do(http.MethodPost, "/v1/views", payload, &out)
	return out, err
}

// UnregisterView removes a view by id.
func (c *Client) UnregisterView(id string) error {
	return c.do(http.MethodDelete, "/v1/views/"+id, nil, nil)
}

// Reset drops all engine state.
func (c *Client) Reset() error {
	return c.do(http.MethodPost, "/v1/reset", nil, nil)
}

// Snapshot downloads the engine state.
func (c *Client) Snapshot() ([]byte, error) {
	resp, err := c.roundTrip(http.MethodGet, "/v1/snapshot", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// Restore uploads a previously downloaded snapshot.
func (c *Client) Restore(data []byte) error {
	resp, err := c.roundTrip(http.MethodPut, "/v1/snapshot", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rpc client: encode %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.roundTrip(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpc client: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) roundTrip(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc client: %s %s: %w", method, path, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	var errResp ErrorResponse
	if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("daemon: %s (%s)", errResp.Error, resp.Status)
	}
	return fmt.Errorf("daemon: %s", resp.Status)
}
