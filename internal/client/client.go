// Package client talks to the insightdeck server's JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/server"
	"github.com/raphaelgruber/insightdeck/internal/service"
)

// ErrAlreadyRunning is returned by Trigger when the server is mid-run.
var ErrAlreadyRunning = service.ErrAlreadyRunning

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// Client is an HTTP client for the insightdeck server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses INSIGHTDECK_SERVER_URL or defaults to localhost:8585.
// INSIGHTDECK_API_KEY is sent with trigger requests when set.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("INSIGHTDECK_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("INSIGHTDECK_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     os.Getenv("INSIGHTDECK_API_KEY"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes the JSON response into result.
// Non-2xx responses are returned as errors carrying the server's message,
// except when the status is in accept, in which case the body is still decoded.
func (c *Client) do(ctx context.Context, method, path string, body, result any, accept ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(server.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		if resp.StatusCode == http.StatusNotFound {
			return resp.StatusCode, fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return resp.StatusCode, fmt.Errorf("server error: %s - %s", resp.Status, e.Error)
		}
		return resp.StatusCode, fmt.Errorf("server error: %s - %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Trigger starts a run on the server.
func (c *Client) Trigger(ctx context.Context, req server.RunRequest) (*service.RunResult, error) {
	var res service.RunResult
	status, err := c.do(ctx, http.MethodPost, "/api/run", req, &res, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		return &res, ErrAlreadyRunning
	}
	return &res, nil
}

// Status returns the pipeline status.
func (c *Client) Status(ctx context.Context) (*service.Status, error) {
	var st service.Status
	if _, err := c.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Runs lists the most recent runs.
func (c *Client) Runs(ctx context.Context, limit int) ([]models.RunRecord, error) {
	var runs []models.RunRecord
	path := "/api/runs?limit=" + strconv.Itoa(limit)
	if _, err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Run fetches one run.
func (c *Client) Run(ctx context.Context, id string) (*models.RunRecord, error) {
	var rec models.RunRecord
	if _, err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Presentations lists published decks.
func (c *Client) Presentations(ctx context.Context) ([]models.Presentation, error) {
	var list []models.Presentation
	if _, err := c.do(ctx, http.MethodGet, "/api/presentations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DownloadPresentation writes a markdown deck to w.
func (c *Client) DownloadPresentation(ctx context.Context, file string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/presentations/"+url.PathEscape(file), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("presentation %s: %w", file, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s", resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// Query runs a semantic query against the index.
func (c *Client) Query(ctx context.Context, q index.Query) ([]models.Document, error) {
	var docs []models.Document
	if _, err := c.do(ctx, http.MethodPost, "/api/query", q, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Stats returns server metrics and index counts.
func (c *Client) Stats(ctx context.Context) (*server.StatsResponse, error) {
	var stats server.StatsResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WatchStatus streams status updates until onStatus returns false, the
// server closes the stream, or ctx is cancelled.
func (c *Client) WatchStatus(ctx context.Context, onStatus func(service.Status) bool) error {
	wsEndpoint := c.baseURL + "/api/ws/status"
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsEndpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var st service.Status
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read status: %w", err)
		}
		if !onStatus(st) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		}
	}
}
