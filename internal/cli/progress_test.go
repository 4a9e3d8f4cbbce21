package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/client"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageProgress(t *testing.T) {
	tests := []struct {
		name          string
		stages        []models.StageResult
		wantCompleted int
		wantCurrent   string
	}{
		{"not started", nil, 0, ""},
		{"first in flight", []models.StageResult{{Stage: "extract"}}, 0, "extract"},
		{"skip counts as done", []models.StageResult{
			{Stage: "extract", Skipped: true},
			{Stage: "process", Completed: true},
			{Stage: "index"},
		}, 2, "index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completed, current := stageProgress(&models.RunRecord{Stages: tt.stages})
			assert.Equal(t, tt.wantCompleted, completed)
			assert.Equal(t, tt.wantCurrent, current)
		})
	}
}

func TestRenderRunSummary(t *testing.T) {
	run := &models.RunRecord{
		ID:     "r1",
		Status: models.RunPartial,
		Stages: []models.StageResult{
			{Stage: "extract", Skipped: true},
			{Stage: "insights", Completed: true, Count: 3, Warnings: []string{"team: model timeout"}},
		},
	}
	out := renderRunSummary(defaultTheme, run)
	assert.Contains(t, out, "warnings")
	assert.Contains(t, out, "skipped")
	assert.Contains(t, out, "team: model timeout")

	run.Status = models.RunFailed
	run.FailedStage = "index"
	run.Error = "store unavailable"
	assert.Contains(t, renderRunSummary(defaultTheme, run), "store unavailable")
	assert.EqualError(t, runError(run), "run r1 failed in index: store unavailable")
}

func TestWaitForRun(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		run := models.RunRecord{ID: r.PathValue("id"), Status: models.RunRunning,
			Stages: []models.StageResult{{Stage: "extract", Completed: true, Count: 4}}}
		if polls.Add(1) > 1 {
			now := time.Now()
			run.Status = models.RunSuccess
			run.FinishedAt = &now
		}
		_ = json.NewEncoder(w).Encode(run)
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	run, err := waitForRun(context.Background(), client.New(ts.URL), "abc")
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, run.Status)
	assert.Equal(t, "abc", run.ID)
	assert.GreaterOrEqual(t, polls.Load(), int32(2))
}
