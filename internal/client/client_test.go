package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/server"
	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Setenv("INSIGHTDECK_API_KEY", "k")
	return New(ts.URL + "/")
}

func TestTrigger(t *testing.T) {
	busy := false
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/run", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get(server.APIKeyHeader))
		var req server.RunRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"extract"}, req.Skip)

		if busy {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(service.RunResult{Status: models.RunRunning, Message: "busy"})
			return
		}
		busy = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(service.RunResult{RunID: "r1", Status: models.RunRunning})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	res, err := c.Trigger(ctx, server.RunRequest{Skip: []string{"extract"}})
	require.NoError(t, err)
	assert.Equal(t, "r1", res.RunID)

	res, err = c.Trigger(ctx, server.RunRequest{Skip: []string{"extract"}})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	require.NotNil(t, res)
	assert.Equal(t, "busy", res.Message)
}

func TestErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"load status failed"}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Run(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Status(ctx)
	assert.ErrorContains(t, err, "load status failed")
}

func TestDownloadPresentation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/presentations/{file}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("file") != "general.md" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("# deck"))
	})
	c := newTestClient(t, mux)

	var buf bytes.Buffer
	require.NoError(t, c.DownloadPresentation(context.Background(), "general.md", &buf))
	assert.Equal(t, "# deck", buf.String())

	err := c.DownloadPresentation(context.Background(), "other.md", &buf)
	assert.ErrorIs(t, err, ErrNotFound)
}
