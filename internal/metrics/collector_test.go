package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.ObserveStage("extract", "completed", 2*time.Second)
	c.ObserveStage("extract", "failed", 4*time.Second)
	c.ObserveStage("index", "completed", time.Second)
	c.ObserveLLM("gpt-4o", "general", true, 1000, 200, 3*time.Second)
	c.ObserveLLM("gpt-4o", "sprint", true, 500, 100, time.Second)
	c.ObserveLLM("gpt-4o", "team", false, 0, 0, time.Second)
	c.ObserveRun("partial", time.Minute)
	c.SetIndexed("issue", 42)

	snap := c.Snapshot()

	require.Contains(t, snap.Stages, "extract")
	extract := snap.Stages["extract"]
	assert.Equal(t, int64(2), extract.Count)
	assert.Equal(t, int64(1), extract.Failures)
	assert.Equal(t, int64(2000), extract.MinTimeMs)
	assert.Equal(t, int64(4000), extract.MaxTimeMs)
	assert.InDelta(t, 3000, extract.AvgTimeMs, 0.1)

	llm := snap.LLMGenerate
	require.NotNil(t, llm)
	assert.Equal(t, int64(3), llm.Count)
	assert.Equal(t, int64(1), llm.Failures)
	require.NotNil(t, llm.TotalInputTokens)
	assert.Equal(t, int64(1500), *llm.TotalInputTokens)
	assert.Equal(t, int64(300), *llm.TotalOutputTokens)
	assert.Equal(t, int64(500), *llm.MinInputTokens)

	assert.Nil(t, snap.Embedding)
	assert.Equal(t, int64(1), snap.Runs["partial"])
	assert.Equal(t, 42, snap.Indexed["issue"])
}

func TestPrometheusHandler(t *testing.T) {
	p := NewPrometheusRecorder()
	var r Recorder = Multi{NewCollector(), p, Nop{}}

	r.ObserveRun("success", 30*time.Second)
	r.ObserveStage("publish", "completed", time.Second)
	r.ObserveLLM("llama3.1", "general", true, 10, 5, time.Second)
	r.ObserveEmbedding(100 * time.Millisecond)
	r.SetIndexed("epic", 3)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`insightdeck_runs_total{status="success"} 1`,
		`insightdeck_indexed_documents{collection="epic"} 3`,
		`insightdeck_llm_tokens_total{model="llama3.1",type="prompt"} 10`,
		`insightdeck_stage_duration_seconds_count{outcome="completed",stage="publish"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %q", want)
	}
}
