package insight

import (
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manyDocs(n int) []models.Document {
	docs := make([]models.Document, n)
	for i := range docs {
		docs[i] = models.Document{
			Key:       fmt.Sprintf("DEMO-%d", i+1),
			Title:     "Checkout flow regression",
			Text:      strings.Repeat("payment provider returns an error during checkout ", 10),
			IssueType: "Bug",
			Status:    "Open",
		}
	}
	return docs
}

func TestBuildPromptFitsBudget(t *testing.T) {
	tc, err := NewTokenCounter()
	require.NoError(t, err)
	def, _ := Lookup(models.InsightGeneral)
	docs := manyDocs(30)

	full := BuildPrompt(def, "", def.Summarize(docs), docs, tc, 1_000_000)
	assert.Equal(t, 30, full.Documents)
	assert.Zero(t, full.Dropped)

	budget := full.Tokens / 2
	p := BuildPrompt(def, "", def.Summarize(docs), docs, tc, budget)
	assert.LessOrEqual(t, p.Tokens, budget)
	assert.Greater(t, p.Dropped, 0)
	assert.Equal(t, 30, p.Documents+p.Dropped)
	assert.Contains(t, p.Text, "DEMO-1 ")
	assert.NotContains(t, p.Text, "DEMO-30 ")
	assert.Contains(t, p.Text, "5. Recommendations:")
}

func TestBuildPromptTinyBudgetKeepsInstructions(t *testing.T) {
	def, _ := Lookup(models.InsightSprint)
	p := BuildPrompt(def, "", "Sprint Summary:\n- Sprint 1: 3 issues", manyDocs(5), nil, 1)
	assert.Zero(t, p.Documents)
	assert.Contains(t, p.Text, "Sprint Performance")
}

func TestSummaries(t *testing.T) {
	docs := []models.Document{
		{IssueType: "Bug", Status: "Open", Priority: "High", Assignee: "alice", Sprint: "Sprint 2"},
		{IssueType: "Bug", Status: "Done", Priority: "Low", Assignee: "alice"},
		{IssueType: "Story", Status: "Open", Priority: "High", Sprint: "Sprint 2"},
	}

	general, _ := Lookup(models.InsightGeneral)
	assert.Equal(t, "Data Summary:\n- Total Issues: 3\n- Issue Types: Bug: 2, Story: 1\n- Statuses: Open: 2, Done: 1\n- Priorities: High: 2, Low: 1\n",
		general.Summarize(docs))

	team, _ := Lookup(models.InsightTeam)
	assert.Equal(t, "Team Summary:\n- alice: 2 issues\n- Unassigned: 1 issues\n", team.Summarize(docs))

	sprint, _ := Lookup(models.InsightSprint)
	assert.Equal(t, "Sprint Summary:\n- Sprint 2: 2 issues\n- No Sprint: 1 issues\n", sprint.Summarize(docs))
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultInsightKinds, kinds)

	kinds, err = ParseKinds("Team, priority")
	require.NoError(t, err)
	assert.Equal(t, []models.InsightKind{models.InsightTeam, models.InsightPriority}, kinds)

	_, err = ParseKinds("general,velocity")
	assert.ErrorContains(t, err, "velocity")
}
