// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/raphaelgruber/insightdeck/internal/state"
)

// APIKeyHeader carries the trigger API key.
const APIKeyHeader = "X-API-KEY"

// Pipeline is the orchestrator surface the server drives.
type Pipeline interface {
	Start(ctx context.Context, req service.Request) (service.RunResult, error)
	Status(ctx context.Context) service.Status
}

// Catalog lists runs and published decks.
type Catalog interface {
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	ListPresentations(ctx context.Context, limit int) ([]models.Presentation, error)
}

// Searcher answers ad-hoc index queries.
type Searcher interface {
	Search(ctx context.Context, q index.Query) ([]models.Document, error)
	Counts(ctx context.Context) (map[string]int, error)
	Ping(ctx context.Context) error
}

// Deps are the server's collaborators. Stats and Metrics may be nil.
type Deps struct {
	Pipeline Pipeline
	Catalog  Catalog
	Index    Searcher
	Stats    *metrics.Collector
	Metrics  http.Handler

	ProjectKey      string
	APIKey          string
	PresentationDir string

	// StatusInterval is how often the websocket status stream pushes; default 1s.
	StatusInterval time.Duration
}

// Server routes the JSON API.
type Server struct {
	deps     Deps
	logger   *slog.Logger
	upgrader websocket.Upgrader
	started  time.Time
}

// New creates a server.
func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.StatusInterval <= 0 {
		deps.StatusInterval = time.Second
	}
	return &Server{
		deps:   deps,
		logger: logger.With("component", "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dashboards
			},
		},
		started: time.Now(),
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/run", s.handleRun)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/presentations", s.handlePresentations)
	mux.HandleFunc("GET /api/presentations/{file}", s.handlePresentationFile)
	mux.HandleFunc("POST /api/query", s.handleQuery)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/ws/status", s.handleStatusStream)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return LoggingMiddleware(s.logger, mux)
}

// RunRequest is the optional body of POST /api/run.
type RunRequest struct {
	ProjectKey string               `json:"project_key,omitempty"`
	Skip       []string             `json:"skip,omitempty"`
	Kinds      []models.InsightKind `json:"kinds,omitempty"`
	Question   string               `json:"question,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.APIKey != "" {
		got := r.Header.Get(APIKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.deps.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
	}

	var body RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	if body.ProjectKey == "" {
		body.ProjectKey = s.deps.ProjectKey
	}

	res, err := s.deps.Pipeline.Start(r.Context(), service.Request{
		ProjectKey: body.ProjectKey,
		Trigger:    "api",
		Skip:       body.Skip,
		Kinds:      body.Kinds,
		Question:   body.Question,
	})
	switch {
	case errors.Is(err, service.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, res)
	case err != nil:
		writeJSON(w, http.StatusBadRequest, res)
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Pipeline.Status(r.Context()))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Catalog.ListRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.internalError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Catalog.GetRun(r.Context(), r.PathValue("id"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.internalError(w, "get run", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePresentations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Catalog.ListPresentations(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		s.internalError(w, "list presentations", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePresentationFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name != filepath.Base(name) || !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}
	path := filepath.Join(s.deps.PresentationDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "presentation not found")
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q index.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	docs, err := s.deps.Index.Search(r.Context(), q)
	if errors.Is(err, index.ErrUnknownCollection) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "query index", err)
		return
	}
	for i := range docs {
		docs[i].Embedding = nil
	}
	writeJSON(w, http.StatusOK, docs)
}

// StatsResponse is returned by GET /api/stats.
type StatsResponse struct {
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
	Documents map[string]int    `json:"documents,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.deps.Stats != nil {
		snap := s.deps.Stats.Snapshot()
		resp.Metrics = &snap
	}
	counts, err := s.deps.Index.Counts(r.Context())
	if err != nil {
		s.logger.Warn("count documents", "error", err)
	} else {
		resp.Documents = counts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if err := s.deps.Index.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// handleStatusStream pushes the pipeline status over a websocket until the
// client goes away.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reading is only needed to notice the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.deps.StatusInterval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.deps.Pipeline.Status(ctx)); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
