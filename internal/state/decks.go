package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/models"
)

// DeckRef is the remembered hosted deck for one insight kind.
type DeckRef struct {
	Kind      models.InsightKind
	RemoteID  string
	URL       string
	UpdatedAt time.Time
}

// Deck returns the hosted deck remembered for kind, or nil.
func (s *Store) Deck(ctx context.Context, kind models.InsightKind) (*DeckRef, error) {
	var (
		ref     = DeckRef{Kind: kind}
		updated string
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT remote_id, url, updated_at FROM decks WHERE kind = ?", string(kind),
	).Scan(&ref.RemoteID, &ref.URL, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get deck %s: %w", kind, err)
	}
	ref.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &ref, nil
}

// SetDeck remembers the hosted deck for kind, replacing any previous id.
func (s *Store) SetDeck(ctx context.Context, kind models.InsightKind, remoteID, url string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO decks (kind, remote_id, url, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			remote_id = excluded.remote_id,
			url = excluded.url,
			updated_at = excluded.updated_at`,
		string(kind), remoteID, url, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set deck %s: %w", kind, err)
	}
	return nil
}

// ForgetDeck drops the remembered deck for kind.
func (s *Store) ForgetDeck(ctx context.Context, kind models.InsightKind) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM decks WHERE kind = ?", string(kind)); err != nil {
		return fmt.Errorf("forget deck %s: %w", kind, err)
	}
	return nil
}

// RecordPresentation adds p to the catalog. Hosted presentations keep one
// entry per kind, updated in place.
func (s *Store) RecordPresentation(ctx context.Context, p models.Presentation) error {
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}

	query := `INSERT INTO presentations
		(kind, format, title, path, remote_id, url, run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if p.Format == FormatHosted {
		query += `
		ON CONFLICT(kind) WHERE format = 'hosted' DO UPDATE SET
			title = excluded.title,
			remote_id = excluded.remote_id,
			url = excluded.url,
			run_id = excluded.run_id,
			updated_at = excluded.updated_at`
	}

	_, err := s.conn.ExecContext(ctx, query,
		string(p.Kind), p.Format, p.Title, p.Path, p.RemoteID, p.URL, p.RunID,
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record presentation %s/%s: %w", p.Format, p.Kind, err)
	}
	return nil
}

// ListPresentations returns up to limit catalog entries, most recently updated first.
func (s *Store) ListPresentations(ctx context.Context, limit int) ([]models.Presentation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT kind, format, title, path, remote_id, url, run_id, created_at, updated_at
		FROM presentations ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list presentations: %w", err)
	}
	defer rows.Close()

	out := []models.Presentation{}
	for rows.Next() {
		var (
			p                  models.Presentation
			kind               string
			created, updatedAt string
		)
		if err := rows.Scan(&kind, &p.Format, &p.Title, &p.Path, &p.RemoteID, &p.URL,
			&p.RunID, &created, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan presentation: %w", err)
		}
		p.Kind = models.InsightKind(kind)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
