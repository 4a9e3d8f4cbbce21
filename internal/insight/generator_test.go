package insight_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/insight"
	"github.com/raphaelgruber/insightdeck/internal/llm"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	docs    []models.Document
	queries []index.Query
}

func (f *fakeSearch) Search(_ context.Context, q index.Query) ([]models.Document, error) {
	f.queries = append(f.queries, q)
	if len(f.docs) > q.Limit {
		return f.docs[:q.Limit], nil
	}
	return f.docs, nil
}

// scriptedModel returns responses keyed by a word found in the prompt.
type scriptedModel struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   map[string]int
}

type reply struct {
	text string
	err  error
}

func (m *scriptedModel) Complete(_ context.Context, _, prompt string) (llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for word, rs := range m.replies {
		if !strings.Contains(prompt, word) {
			continue
		}
		i := m.calls[word]
		m.calls[word]++
		r := rs[min(i, len(rs)-1)]
		if r.err != nil {
			return llm.Completion{}, r.err
		}
		return llm.Completion{Text: r.text, InputTokens: 100, OutputTokens: 20}, nil
	}
	return llm.Completion{Text: "## Summary\n- ok"}, nil
}

func (m *scriptedModel) Model() string { return "scripted" }

func newGenerator(t *testing.T, model insight.Completer) (*insight.Generator, *fakeSearch, string) {
	t.Helper()
	search := &fakeSearch{docs: []models.Document{
		{Collection: models.CollectionIssue, ID: "1", Key: "DEMO-1", Title: "Login bug", IssueType: "Bug", Status: "Open", Priority: "High", Assignee: "alice"},
		{Collection: models.CollectionIssue, ID: "2", Key: "DEMO-2", Title: "Export", IssueType: "Story", Status: "Done", Priority: "Low"},
	}}
	dir := t.TempDir()
	g := insight.NewGenerator(search, model, dir, insight.Options{RetryDelay: time.Millisecond}, nil)
	return g, search, dir
}

func TestGenerateAllKinds(t *testing.T) {
	model := &scriptedModel{calls: map[string]int{}, replies: map[string][]reply{
		"Executive Summary": {{text: "## Executive Summary\n- On track\n## Recommendations\n- Ship it"}},
		"Sprint Performance": {{text: "no structure at all"}},
	}}
	g, search, dir := newGenerator(t, model)

	res, err := g.Generate(context.Background(), nil, "")
	require.NoError(t, err)
	require.Len(t, res.Insights, 4)
	assert.Empty(t, res.Failed)

	general := res.Insights[0]
	assert.Equal(t, models.InsightGeneral, general.Kind)
	assert.Equal(t, "scripted", general.Model)
	assert.Equal(t, 2, general.DocumentCount)
	require.NotNil(t, general.Section("Recommendations"))
	assert.Equal(t, []string{"Ship it"}, general.Section("Recommendations").Items)

	sprint := res.Insights[1]
	require.Len(t, sprint.Sections, 1)
	assert.Equal(t, models.BodySection, sprint.Sections[0].Name)
	assert.Equal(t, "no structure at all", sprint.Raw)

	for _, kind := range models.DefaultInsightKinds {
		assert.FileExists(t, res.Paths[kind])
	}

	latest, err := insight.LatestInsights(dir, nil)
	require.NoError(t, err)
	assert.Len(t, latest, 4)

	// one summary listing plus one retrieval per kind
	assert.Len(t, search.queries, 5)
	assert.Empty(t, search.queries[0].Text)
	assert.NotEmpty(t, search.queries[1].Text)
}

func TestGenerateRetriesTransientOnce(t *testing.T) {
	model := &scriptedModel{calls: map[string]int{}, replies: map[string][]reply{
		"Team Workload": {{err: errors.New("429 rate limit reached")}, {text: "## Team Workload\n- balanced"}},
		"Priority Distribution": {
			{err: errors.New("503 overloaded")},
			{err: errors.New("503 overloaded")},
			{text: "## never reached"},
		},
	}}
	g, _, _ := newGenerator(t, model)

	res, err := g.Generate(context.Background(), []models.InsightKind{models.InsightTeam, models.InsightPriority}, "")
	require.NoError(t, err)

	require.Len(t, res.Insights, 1)
	assert.Equal(t, models.InsightTeam, res.Insights[0].Kind)
	assert.Equal(t, 2, model.calls["Team Workload"])

	assert.Contains(t, res.Failed, models.InsightPriority)
	assert.Equal(t, 2, model.calls["Priority Distribution"], "exactly one retry")
	require.Len(t, res.Warnings, 1)
}

func TestGenerateFatalNotRetried(t *testing.T) {
	fatal := errors.Join(llm.ErrFatalAPI, errors.New("invalid api key"))
	model := &scriptedModel{calls: map[string]int{}, replies: map[string][]reply{
		"analyze": {{err: fatal}},
	}}
	g, _, _ := newGenerator(t, model)

	res, err := g.Generate(context.Background(), []models.InsightKind{models.InsightGeneral, models.InsightTeam}, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, insight.ErrAllFailed)
	assert.ErrorIs(t, err, llm.ErrFatalAPI)
	assert.Len(t, res.Failed, 2)
	assert.Equal(t, 2, model.calls["analyze"], "one call per kind, no retries")
}

func TestGenerateQueryKind(t *testing.T) {
	model := &scriptedModel{calls: map[string]int{}, replies: map[string][]reply{
		"Question: which bugs block the release?": {{text: "## Answer\n- DEMO-1"}},
	}}
	g, search, _ := newGenerator(t, model)

	res, err := g.Generate(context.Background(), []models.InsightKind{models.InsightQuery}, "which bugs block the release?")
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, "which bugs block the release?", res.Insights[0].Question)
	assert.Equal(t, "which bugs block the release?", search.queries[1].Text)

	_, err = g.Generate(context.Background(), []models.InsightKind{models.InsightQuery}, "")
	assert.ErrorIs(t, err, insight.ErrAllFailed)
}
