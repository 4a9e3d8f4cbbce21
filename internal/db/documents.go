package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// docRow is the wire shape of a document row.
type docRow struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	IssueType string    `json:"issue_type"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Assignee  string    `json:"assignee"`
	Sprint    string    `json:"sprint"`
	Updated   string    `json:"updated"`
	Embedding []float32 `json:"embedding,omitempty"`
	Score     float64   `json:"score"`
}

func (r docRow) document(collection string) models.Document {
	return models.Document{
		Collection: collection,
		ID:         r.ID,
		Key:        r.Key,
		Title:      r.Title,
		Text:       r.Text,
		IssueType:  r.IssueType,
		Status:     r.Status,
		Priority:   r.Priority,
		Assignee:   r.Assignee,
		Sprint:     r.Sprint,
		Updated:    r.Updated,
		Score:      r.Score,
	}
}

// UpsertDocuments writes docs into the collection's table keyed by document ID.
// Re-upserting the same ID replaces the row.
func (c *Client) UpsertDocuments(ctx context.Context, collection string, docs []models.Document) error {
	if !validTable(collection) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, collection)
	}
	if len(docs) == 0 {
		return nil
	}

	rows := make([]docRow, len(docs))
	for i, d := range docs {
		rows[i] = docRow{
			ID:        d.ID,
			Key:       d.Key,
			Title:     d.Title,
			Text:      d.Text,
			IssueType: d.IssueType,
			Status:    d.Status,
			Priority:  d.Priority,
			Assignee:  d.Assignee,
			Sprint:    d.Sprint,
			Updated:   d.Updated,
			Embedding: d.Embedding,
		}
	}

	sql := fmt.Sprintf(`
		FOR $d IN $docs {
			UPSERT type::record(%q, $d.id) SET
				key = $d.key,
				title = $d.title,
				text = $d.text,
				issue_type = $d.issue_type,
				status = $d.status,
				priority = $d.priority,
				assignee = $d.assignee,
				sprint = $d.sprint,
				updated = $d.updated,
				embedding = $d.embedding,
				indexed_at = time::now();
		};
	`, collection)

	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"docs": rows}); err != nil {
		return fmt.Errorf("upsert %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

// SearchDocuments returns up to limit documents from the collection.
// With an embedding the results are ordered by cosine similarity, otherwise by key.
func (c *Client) SearchDocuments(
	ctx context.Context,
	collection string,
	embedding []float32,
	filters models.Filters,
	limit int,
) ([]models.Document, error) {
	if !validTable(collection) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, collection)
	}
	if limit <= 0 {
		limit = 10
	}

	where, vars := filterClause(filters)
	vars["limit"] = limit

	var sql string
	if len(embedding) > 0 {
		vars["emb"] = embedding
		// Over-fetch candidates so exact-match filters still leave enough rows.
		conds := append([]string{fmt.Sprintf("embedding <|%d,40|> $emb", limit*4)}, where...)
		sql = fmt.Sprintf(`
			SELECT meta::id(id) AS id, key, title, text, issue_type, status, priority,
				assignee, sprint, updated, vector::similarity::cosine(embedding, $emb) AS score
			FROM %s
			WHERE %s
			ORDER BY score DESC
			LIMIT $limit
		`, collection, strings.Join(conds, " AND "))
	} else {
		cond := ""
		if len(where) > 0 {
			cond = "WHERE " + strings.Join(where, " AND ")
		}
		sql = fmt.Sprintf(`
			SELECT meta::id(id) AS id, key, title, text, issue_type, status, priority,
				assignee, sprint, updated
			FROM %s %s
			ORDER BY key
			LIMIT $limit
		`, collection, cond)
	}

	results, err := surrealdb.Query[[]docRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, wrapQueryError(err))
	}

	docs := []models.Document{}
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			docs = append(docs, r.document(collection))
		}
	}
	return docs, nil
}

// CountDocuments returns the number of rows in the collection.
func (c *Client) CountDocuments(ctx context.Context, collection string) (int, error) {
	if !validTable(collection) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTable, collection)
	}

	type countRow struct {
		Count int `json:"count"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, c.db,
		fmt.Sprintf("SELECT count() FROM %s GROUP ALL", collection), nil)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].Count, nil
}

func filterClause(f models.Filters) ([]string, map[string]any) {
	var conds []string
	vars := map[string]any{}
	add := func(field, name string, values []string) {
		if len(values) == 0 {
			return
		}
		conds = append(conds, fmt.Sprintf("%s IN $%s", field, name))
		vars[name] = values
	}
	add("issue_type", "issue_types", f.IssueTypes)
	add("status", "statuses", f.Statuses)
	add("priority", "priorities", f.Priorities)
	add("assignee", "assignees", f.Assignees)
	add("sprint", "sprints", f.Sprints)
	return conds, vars
}
