package processor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/artifact"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just text", "just text"},
		{"paragraphs", "<p>First</p><p>Second</p>", "First Second"},
		{"entities", "Fish &amp; chips &lt;3", "Fish & chips <3"},
		{"nested inline", "<b>bold <i>and italic</i></b>", "bold and italic"},
		{"script dropped", "<p>keep</p><script>alert(1)</script>", "keep"},
		{"whitespace collapsed", "  a \n\n\t b  ", "a b"},
		{"line breaks", "one<br/>two", "one two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.in))
		})
	}
}

func TestTextOfADF(t *testing.T) {
	doc := `{"type":"doc","version":1,"content":[
		{"type":"paragraph","content":[{"type":"text","text":"Login fails"},{"type":"hardBreak"},{"type":"text","text":"on Safari"}]},
		{"type":"paragraph","content":[{"type":"mention","attrs":{"text":"@ana"}},{"type":"text","text":" please check"}]}
	]}`
	assert.Equal(t, "Login fails on Safari @ana please check", TextOf(json.RawMessage(doc)))
	assert.Equal(t, "x & y", TextOf(json.RawMessage(`"<p>x &amp; y</p>"`)))
	assert.Equal(t, "", TextOf(json.RawMessage(`null`)))
	assert.Equal(t, "", TextOf(json.RawMessage(`42`)))
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024-03-05T10:20:30.000+0000", "2024-03-05", true},
		{"2024-03-05T23:20:30.000-0500", "2024-03-05", true},
		{"2024-03-05T10:20:30Z", "2024-03-05", true},
		{"2024-03-05", "2024-03-05", true},
		{"05/Mar/24", "2024-03-05", true},
		{"Mar 5, 2024", "2024-03-05", true},
		{"03/05/2024", "2024-03-05", true},
		{"5 Mar 2024", "2024-03-05", true},
		{"yesterday", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func sampleSnapshot() *models.Snapshot {
	snap := models.NewSnapshot("ABC", time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC))
	snap.Add(models.EntityEpic, models.RawItem{ID: "9", Parent: "7", Data: raw(`{"id":9,"key":"ABC-90","name":"Checkout","summary":"<b>New</b> checkout flow","done":false}`)})
	snap.Add(models.EntitySprint, models.RawItem{ID: "1", Parent: "7", Data: raw(`{"id":1,"name":"Sprint 1","state":"active","startDate":"2024-03-01T09:00:00.000Z","endDate":"2024-03-14T17:00:00.000Z"}`)})
	snap.Add(models.EntityIssue,
		models.RawItem{ID: "1010", Data: raw(`{"id":"1010","key":"ABC-10","fields":{"summary":"Second","status":{"name":"Done"},"issuetype":{"name":"Task"},"created":"Mar 4, 2024"}}`)},
		models.RawItem{ID: "1002", Data: raw(`{"id":"1002","key":"ABC-2","fields":{
			"summary":"Login &amp; signup",
			"description":"<p>Users <em>cannot</em> log in</p>",
			"status":{"name":"In Progress"},"priority":{"name":"High"},"issuetype":{"name":"Bug"},
			"created":"05/Mar/24","updated":"2024-03-06T08:00:00.000+0000",
			"assignee":{"displayName":"Ana"},"reporter":{"displayName":"Bo"},
			"labels":["web","auth"],"components":[{"name":"frontend"}],
			"customfield_10002":3,"customfield_10014":"ABC-90",
			"customfield_10020":[{"id":1,"name":"Sprint 1","state":"active"}]}}`)},
		models.RawItem{ID: "bad", Data: raw(`{"id":"x","fields":{}}`)},
		models.RawItem{ID: "worse", Data: raw(`[1,2,3]`)},
	)
	snap.Add(models.EntityComment,
		models.RawItem{ID: "c2", Parent: "ABC-2", Data: raw(`{"id":"c2","author":{"displayName":"Bo"},"body":"second","created":"2024-03-06T10:00:00.000+0000"}`)},
		models.RawItem{ID: "c1", Parent: "ABC-2", Data: raw(`{"id":"c1","author":{"displayName":"Ana"},"body":"<p>first</p>","created":"2024-03-05T10:00:00.000+0000"}`)},
		models.RawItem{ID: "c3", Data: raw(`{"id":"c3","body":"orphan"}`)},
	)
	return snap
}

func TestBuildMergesAndCleans(t *testing.T) {
	set, warnings := Build(sampleSnapshot(), quietLogger())

	require.Len(t, set.Issues, 2)
	assert.Equal(t, 3, set.Skipped, "two malformed issues and one orphan comment")
	assert.Len(t, warnings, 3)

	// ABC-2 sorts before ABC-10
	issue := set.Issues[0]
	assert.Equal(t, "ABC-2", issue.Key)
	assert.Equal(t, "Login & signup", issue.Summary)
	assert.Equal(t, "Users cannot log in", issue.Description)
	assert.Equal(t, "2024-03-05", issue.Created)
	assert.Equal(t, "2024-03-06", issue.Updated)
	assert.Equal(t, []string{"auth", "web"}, issue.Labels)
	assert.Equal(t, []string{"frontend"}, issue.Components)
	assert.Equal(t, 3.0, issue.StoryPoints)
	assert.Equal(t, "Sprint 1", issue.Sprint)
	assert.Equal(t, "Checkout", issue.EpicName)
	assert.Equal(t, "New checkout flow", issue.EpicSummary)
	assert.Equal(t, "Ana (2024-03-05): first | Bo (2024-03-06): second", issue.Comments)
	assert.Equal(t, 2, issue.CommentCount)
	assert.Contains(t, issue.Text, "Issue: ABC-2 - Login & signup")
	assert.NotContains(t, issue.Text, "<")

	other := set.Issues[1]
	assert.Equal(t, "ABC-10", other.Key)
	assert.Equal(t, "Unassigned", other.Assignee)
	assert.Equal(t, "None", other.Priority)
	assert.Equal(t, "2024-03-04", other.Created)

	require.Len(t, set.Sprints, 1)
	assert.Equal(t, "2024-03-01", set.Sprints[0].StartDate)
	require.Len(t, set.Epics, 1)
}

func TestBuildIsDeterministic(t *testing.T) {
	a, _ := Build(sampleSnapshot(), quietLogger())
	b, _ := Build(sampleSnapshot(), quietLogger())

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestProcessReadsLatestSnapshot(t *testing.T) {
	rawDir := filepath.Join(t.TempDir(), "raw")
	outDir := filepath.Join(t.TempDir(), "processed")

	old := models.NewSnapshot("ABC", time.Now())
	require.NoError(t, artifact.WriteJSON(filepath.Join(rawDir, tracker.SnapshotPrefix("ABC")+"20240101_000000.json"), old))
	require.NoError(t, artifact.WriteJSON(filepath.Join(rawDir, tracker.SnapshotPrefix("ABC")+"20240305_120000.json"), sampleSnapshot()))

	p := New(rawDir, outDir, quietLogger())
	p.now = func() time.Time { return time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC) }

	res, err := p.Process(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Len(t, res.Set.Issues, 2)
	assert.Equal(t, "snapshot_ABC_20240305_120000.json", res.Set.SourceFile)

	latest, err := LatestRecords(outDir, "ABC")
	require.NoError(t, err)
	loaded, err := LoadRecords(latest)
	require.NoError(t, err)
	assert.Equal(t, res.Set.Issues, loaded.Issues)
}

func TestProcessWithoutSnapshot(t *testing.T) {
	p := New(t.TempDir(), t.TempDir(), quietLogger())
	_, err := p.Process(context.Background(), "ABC")
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}
