package index

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/embedding"
	"github.com/raphaelgruber/insightdeck/internal/models"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps documents in a local SQLite file and ranks them in process.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the document database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{conn: conn}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection string, docs []models.Document) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (
			collection, id, key, title, text, issue_type, status, priority,
			assignee, sprint, updated, embedding, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			key = excluded.key,
			title = excluded.title,
			text = excluded.text,
			issue_type = excluded.issue_type,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			sprint = excluded.sprint,
			updated = excluded.updated,
			embedding = excluded.embedding,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, d := range docs {
		vec, err := json.Marshal(d.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding %s: %w", d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			collection, d.ID, d.Key, d.Title, d.Text, d.IssueType, d.Status, d.Priority,
			d.Assignee, d.Sprint, d.Updated, string(vec), now,
		); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", collection, d.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Search(
	ctx context.Context,
	collection string,
	vec []float32,
	filters models.Filters,
	limit int,
) ([]models.Document, error) {
	where, args := sqlFilters(collection, filters)
	query := `SELECT id, key, title, text, issue_type, status, priority, assignee, sprint, updated, embedding
		FROM documents WHERE ` + where + ` ORDER BY key`
	if len(vec) == 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var (
			d   models.Document
			raw string
		)
		if err := rows.Scan(&d.ID, &d.Key, &d.Title, &d.Text, &d.IssueType, &d.Status,
			&d.Priority, &d.Assignee, &d.Sprint, &d.Updated, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Collection = collection
		if len(vec) > 0 {
			var stored []float32
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return nil, fmt.Errorf("decode embedding %s: %w", d.ID, err)
			}
			d.Score = embedding.Cosine(vec, stored)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(vec) == 0 {
		return docs, nil
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func sqlFilters(collection string, f models.Filters) (string, []any) {
	conds := []string{"collection = ?"}
	args := []any{collection}
	add := func(field string, values []string) {
		if len(values) == 0 {
			return
		}
		conds = append(conds, field+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")+")")
		for _, v := range values {
			args = append(args, v)
		}
	}
	add("issue_type", f.IssueTypes)
	add("status", f.Statuses)
	add("priority", f.Priorities)
	add("assignee", f.Assignees)
	add("sprint", f.Sprints)
	return strings.Join(conds, " AND "), args
}
