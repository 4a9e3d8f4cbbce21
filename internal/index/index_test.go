package index_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/embedding"
	"github.com/raphaelgruber/insightdeck/internal/embedding/embeddingtest"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, batch int) (*index.Index, *embeddingtest.Fake) {
	t.Helper()
	store, err := index.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	fake := embeddingtest.New(64)
	x := index.New(store, fake, batch, nil)
	t.Cleanup(func() { _ = x.Close() })
	return x, fake
}

func sampleDocs() []models.Document {
	return []models.Document{
		{Collection: models.CollectionIssue, ID: "1", Key: "DEMO-1", Title: "Login fails", Text: "login page fails on safari browser", IssueType: "Bug", Status: "Open", Priority: "High", Assignee: "alice"},
		{Collection: models.CollectionIssue, ID: "2", Key: "DEMO-2", Title: "CSV export", Text: "export monthly report as csv", IssueType: "Story", Status: "Done", Priority: "Medium", Assignee: "bob"},
		{Collection: models.CollectionIssue, ID: "3", Key: "DEMO-3", Title: "Login timeout", Text: "login session timeout too short", IssueType: "Bug", Status: "In Progress", Priority: "Low", Assignee: "alice"},
		{Collection: models.CollectionSprint, ID: "7", Key: "7", Title: "Sprint 7", Text: "sprint 7 active goal ship login", Status: "active", Sprint: "Sprint 7"},
		{Collection: models.CollectionEpic, ID: "9", Key: "DEMO-9", Title: "Auth", Text: "authentication epic", Status: "open"},
	}
}

func TestImportIdempotent(t *testing.T) {
	x, _ := newTestIndex(t, 2)
	ctx := context.Background()

	res, err := x.Import(ctx, sampleDocs())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Indexed)
	assert.Zero(t, res.Failed)

	_, err = x.Import(ctx, sampleDocs())
	require.NoError(t, err)

	counts, err := x.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"issue": 3, "sprint": 1, "epic": 1}, counts)
}

func TestImportReplacesByID(t *testing.T) {
	x, _ := newTestIndex(t, 0)
	ctx := context.Background()

	_, err := x.Import(ctx, sampleDocs())
	require.NoError(t, err)

	changed := sampleDocs()[:1]
	changed[0].Status = "Closed"
	changed[0].Title = "Login fails on Safari"
	_, err = x.Import(ctx, changed)
	require.NoError(t, err)

	docs, err := x.Search(ctx, index.Query{Filters: models.Filters{Statuses: []string{"Closed"}}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Login fails on Safari", docs[0].Title)

	counts, err := x.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.CollectionIssue])
}

func TestSearchRanksBySimilarity(t *testing.T) {
	x, _ := newTestIndex(t, 0)
	ctx := context.Background()
	_, err := x.Import(ctx, sampleDocs())
	require.NoError(t, err)

	docs, err := x.Search(ctx, index.Query{Text: "export csv report", Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "DEMO-2", docs[0].Key)
	assert.GreaterOrEqual(t, docs[0].Score, docs[1].Score)
}

func TestSearchFilters(t *testing.T) {
	x, _ := newTestIndex(t, 0)
	ctx := context.Background()
	_, err := x.Import(ctx, sampleDocs())
	require.NoError(t, err)

	tests := []struct {
		name    string
		filters models.Filters
		want    []string
	}{
		{"no filter", models.Filters{}, []string{"DEMO-1", "DEMO-2", "DEMO-3"}},
		{"bugs", models.Filters{IssueTypes: []string{"Bug"}}, []string{"DEMO-1", "DEMO-3"}},
		{"alice high", models.Filters{Assignees: []string{"alice"}, Priorities: []string{"High"}}, []string{"DEMO-1"}},
		{"no match", models.Filters{Statuses: []string{"Blocked"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := x.Search(ctx, index.Query{Filters: tt.filters})
			require.NoError(t, err)
			var keys []string
			for _, d := range docs {
				keys = append(keys, d.Key)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestSearchEmptyCollection(t *testing.T) {
	x, fake := newTestIndex(t, 0)

	docs, err := x.Search(context.Background(), index.Query{Text: "anything", Collection: models.CollectionEpic})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
	assert.Zero(t, fake.Calls.Load(), "empty collection should not embed the query")
}

func TestSearchUnknownCollection(t *testing.T) {
	x, _ := newTestIndex(t, 0)
	_, err := x.Search(context.Background(), index.Query{Collection: "entity"})
	assert.ErrorIs(t, err, index.ErrUnknownCollection)
}

func TestImportBatchFailureIsolated(t *testing.T) {
	store, err := index.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	fake := &failingEmbedder{Fake: embeddingtest.New(16), reject: "export monthly report as csv", times: -1}
	x := index.New(store, fake, 1, nil)
	x.SetRetry(2, time.Millisecond)
	t.Cleanup(func() { _ = x.Close() })

	res, err := x.Import(context.Background(), sampleDocs()[:3])
	require.NoError(t, err)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "issue batch 1-1")
}

func TestImportAllFailed(t *testing.T) {
	store, err := index.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	fake := embeddingtest.New(16)
	fake.Err = errors.New("embedding service down")
	x := index.New(store, fake, 0, nil)
	x.SetRetry(1, time.Millisecond)
	t.Cleanup(func() { _ = x.Close() })

	res, err := x.Import(context.Background(), sampleDocs())
	require.Error(t, err)
	assert.Equal(t, 5, res.Failed)
}

func TestImportUnknownCollectionSkipped(t *testing.T) {
	x, _ := newTestIndex(t, 0)
	docs := append(sampleDocs(), models.Document{Collection: "board", ID: "1", Key: "B1"})

	res, err := x.Import(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Indexed)
	assert.Equal(t, 1, res.Failed)
}

// failingEmbedder rejects batches starting with the reject text, the given
// number of times or forever when times is negative.
type failingEmbedder struct {
	*embeddingtest.Fake
	reject   string
	times    int
	err      error
	rejected atomic.Int32
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > 0 && texts[0] == f.reject && (f.times < 0 || int(f.rejected.Load()) < f.times) {
		f.rejected.Add(1)
		f.Calls.Add(1)
		if f.err != nil {
			return nil, f.err
		}
		return nil, fmt.Errorf("batch %q rejected", f.reject)
	}
	return f.Fake.EmbedBatch(ctx, texts)
}

func TestImportRetriesFailedBatch(t *testing.T) {
	tests := []struct {
		name         string
		times        int
		err          error
		wantIndexed  int
		wantRejected int32
	}{
		{"transient failure once", 1, nil, 3, 1},
		{"fails past retries", -1, nil, 2, 3},
		{"dimension mismatch is not retried", -1, fmt.Errorf("%w: got 3, want 16", embedding.ErrDimensionMismatch), 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := index.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
			require.NoError(t, err)
			fake := &failingEmbedder{Fake: embeddingtest.New(16), reject: "login session timeout too short", times: tt.times, err: tt.err}
			x := index.New(store, fake, 1, nil)
			x.SetRetry(2, time.Millisecond)
			t.Cleanup(func() { _ = x.Close() })

			res, err := x.Import(context.Background(), sampleDocs()[:3])
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndexed, res.Indexed)
			assert.Equal(t, 3-tt.wantIndexed, res.Failed)
			assert.Equal(t, tt.wantRejected, fake.rejected.Load())

			counts, err := x.Counts(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantIndexed, counts[models.CollectionIssue], "retried batches are not duplicated")
		})
	}
}
