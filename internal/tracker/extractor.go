package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/artifact"
	"github.com/raphaelgruber/insightdeck/internal/models"
)

// ErrFatal marks failures that abort extraction entirely.
var ErrFatal = errors.New("extraction aborted")

// snapshotsKept is how many snapshots per project stay on disk.
const snapshotsKept = 24

// Source is the subset of the tracker API the extractor needs.
type Source interface {
	Project(ctx context.Context, key string) (json.RawMessage, error)
	Boards(ctx context.Context, projectKey string) ([]json.RawMessage, error)
	Sprints(ctx context.Context, boardID string) ([]json.RawMessage, error)
	Epics(ctx context.Context, boardID string) ([]json.RawMessage, error)
	Issues(ctx context.Context, projectKey string) ([]json.RawMessage, error)
	Comments(ctx context.Context, issueKey string) ([]json.RawMessage, error)
}

var _ Source = (*Client)(nil)

// Result describes one extraction.
type Result struct {
	Path     string
	Snapshot *models.Snapshot
	// Warnings lists entity-level failures that did not abort extraction.
	Warnings []string
}

// Extractor pulls all records of a project into a snapshot file.
type Extractor struct {
	source Source
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewExtractor creates an extractor writing snapshots to dir.
func NewExtractor(source Source, dir string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{source: source, dir: dir, logger: logger, now: time.Now}
}

// SnapshotPrefix is the file name prefix for a project's snapshots.
func SnapshotPrefix(projectKey string) string {
	return "snapshot_" + projectKey + "_"
}

// LatestSnapshot returns the path of the newest snapshot for a project.
func LatestSnapshot(dir, projectKey string) (string, error) {
	return artifact.Latest(dir, SnapshotPrefix(projectKey), ".json")
}

// LoadSnapshot reads a snapshot file.
func LoadSnapshot(path string) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := artifact.ReadJSON(path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Extract fetches every supported entity type. A failure of one entity type
// is recorded and extraction continues; rejected credentials or an
// unreachable project abort with ErrFatal.
func (e *Extractor) Extract(ctx context.Context, projectKey string) (*Result, error) {
	start := e.now()
	snap := models.NewSnapshot(projectKey, start)
	log := e.logger.With("project", projectKey)

	project, err := e.source.Project(ctx, projectKey)
	if err != nil {
		return nil, fmt.Errorf("%w: project %s: %w", ErrFatal, projectKey, err)
	}
	snap.Add(models.EntityProject, models.RawItem{ID: projectKey, Data: project})

	fail := func(t models.EntityType, err error) {
		msg := err.Error()
		if prev, ok := snap.Metadata.Failures[t]; ok {
			msg = prev + "; " + msg
		}
		snap.Metadata.Failures[t] = msg
		log.Warn("extraction incomplete", "entity", t, "error", err)
	}

	boards, err := e.source.Boards(ctx, projectKey)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: boards: %w", ErrFatal, err)
		}
		fail(models.EntityBoard, err)
	}
	snap.Add(models.EntityBoard, toItems(boards, "")...)
	dedupe(snap, models.EntityBoard)
	boardItems := snap.Items[models.EntityBoard]

	for _, b := range boardItems {
		sprints, err := e.source.Sprints(ctx, b.ID)
		if err != nil {
			fail(models.EntitySprint, fmt.Errorf("board %s: %w", b.ID, err))
		}
		snap.Add(models.EntitySprint, toItems(sprints, b.ID)...)

		epics, err := e.source.Epics(ctx, b.ID)
		if err != nil {
			fail(models.EntityEpic, fmt.Errorf("board %s: %w", b.ID, err))
		}
		snap.Add(models.EntityEpic, toItems(epics, b.ID)...)
	}
	// Boards of one project share sprints and epics.
	dedupe(snap, models.EntitySprint)
	dedupe(snap, models.EntityEpic)

	issues, err := e.source.Issues(ctx, projectKey)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: issues: %w", ErrFatal, err)
		}
		fail(models.EntityIssue, err)
	}
	issueItems := toItems(issues, "")
	snap.Add(models.EntityIssue, issueItems...)
	dedupe(snap, models.EntityIssue)

	for _, issue := range snap.Items[models.EntityIssue] {
		key := issueKey(issue.Data)
		if key == "" {
			continue
		}
		comments, err := e.source.Comments(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrFatal, ctx.Err())
			}
			fail(models.EntityComment, fmt.Errorf("issue %s: %w", key, err))
		}
		snap.Add(models.EntityComment, toItems(comments, key)...)
	}
	dedupe(snap, models.EntityComment)

	name := fmt.Sprintf("%s%s.json", SnapshotPrefix(projectKey), models.FileTimestamp(start))
	path := filepath.Join(e.dir, name)
	if err := artifact.WriteJSON(path, snap); err != nil {
		return nil, fmt.Errorf("%w: write snapshot: %w", ErrFatal, err)
	}
	if removed, err := artifact.Prune(e.dir, SnapshotPrefix(projectKey), ".json", snapshotsKept); err != nil {
		log.Warn("failed to prune snapshots", "error", err)
	} else if removed > 0 {
		log.Debug("pruned snapshots", "removed", removed)
	}

	log.Info("extraction complete",
		"path", path,
		"boards", snap.Metadata.Counts[models.EntityBoard],
		"sprints", snap.Metadata.Counts[models.EntitySprint],
		"epics", snap.Metadata.Counts[models.EntityEpic],
		"issues", snap.Metadata.Counts[models.EntityIssue],
		"comments", snap.Metadata.Counts[models.EntityComment],
		"failures", len(snap.Metadata.Failures),
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{Path: path, Snapshot: snap, Warnings: warnings(snap)}, nil
}

func warnings(snap *models.Snapshot) []string {
	out := make([]string, 0, len(snap.Metadata.Failures))
	for t, msg := range snap.Metadata.Failures {
		out = append(out, fmt.Sprintf("extract %s: %s", t, msg))
	}
	sort.Strings(out)
	return out
}

func toItems(raw []json.RawMessage, parent string) []models.RawItem {
	items := make([]models.RawItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, models.RawItem{ID: rawID(r), Parent: parent, Data: r})
	}
	return items
}

// dedupe drops repeated source ids, keeping the first occurrence.
func dedupe(snap *models.Snapshot, t models.EntityType) {
	seen := make(map[string]bool, len(snap.Items[t]))
	kept := snap.Items[t][:0]
	for _, item := range snap.Items[t] {
		if item.ID != "" && seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		kept = append(kept, item)
	}
	snap.Items[t] = kept
	snap.Metadata.Counts[t] = len(kept)
}

// rawID reads the "id" field, which is a string for issues and a number for agile objects.
func rawID(data json.RawMessage) string {
	var v struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &v); err != nil || len(v.ID) == 0 {
		return ""
	}
	return strings.Trim(string(bytes.TrimSpace(v.ID)), `"`)
}

func issueKey(data json.RawMessage) string {
	var v struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return ""
	}
	return v.Key
}
