// Package processor turns a raw tracker snapshot into cleaned, denormalized
// records ready for indexing.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/artifact"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/tracker"
)

// commentSeparator joins merged comments.
const commentSeparator = " | "

// Result describes one processing run.
type Result struct {
	Path     string
	Set      *models.ProcessedSet
	Warnings []string
}

// Processor reads the latest snapshot and writes the processed record set.
type Processor struct {
	rawDir string
	outDir string
	logger *slog.Logger
	now    func() time.Time
}

// New creates a processor reading from rawDir and writing to outDir.
func New(rawDir, outDir string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{rawDir: rawDir, outDir: outDir, logger: logger, now: time.Now}
}

// RecordsPrefix is the file name prefix for a project's processed sets.
func RecordsPrefix(projectKey string) string {
	return "records_" + projectKey + "_"
}

// LatestRecords returns the newest processed set for a project.
func LatestRecords(dir, projectKey string) (string, error) {
	return artifact.Latest(dir, RecordsPrefix(projectKey), ".json")
}

// LoadRecords reads a processed set file.
func LoadRecords(path string) (*models.ProcessedSet, error) {
	var set models.ProcessedSet
	if err := artifact.ReadJSON(path, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// Process builds the record set from the project's latest snapshot.
func (p *Processor) Process(ctx context.Context, projectKey string) (*Result, error) {
	src, err := tracker.LatestSnapshot(p.rawDir, projectKey)
	if err != nil {
		return nil, err
	}
	snap, err := tracker.LoadSnapshot(src)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set, warnings := Build(snap, p.logger)
	set.GeneratedAt = p.now().UTC()
	set.SourceFile = filepath.Base(src)

	path := filepath.Join(p.outDir, fmt.Sprintf("%s%s.json", RecordsPrefix(projectKey), models.FileTimestamp(set.GeneratedAt)))
	if err := artifact.WriteJSON(path, set); err != nil {
		return nil, err
	}
	if _, err := artifact.Prune(p.outDir, RecordsPrefix(projectKey), ".json", 24); err != nil {
		p.logger.Warn("failed to prune processed sets", "error", err)
	}

	p.logger.Info("processing complete",
		"path", path,
		"issues", len(set.Issues),
		"sprints", len(set.Sprints),
		"epics", len(set.Epics),
		"skipped", set.Skipped)

	return &Result{Path: path, Set: set, Warnings: warnings}, nil
}

// raw tracker shapes

type named struct {
	Name string `json:"name"`
}

type person struct {
	DisplayName string `json:"displayName"`
}

type rawIssue struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary        string          `json:"summary"`
		Description    json.RawMessage `json:"description"`
		Status         *named          `json:"status"`
		Priority       *named          `json:"priority"`
		IssueType      *named          `json:"issuetype"`
		Created        string          `json:"created"`
		Updated        string          `json:"updated"`
		ResolutionDate string          `json:"resolutiondate"`
		Assignee       *person         `json:"assignee"`
		Reporter       *person         `json:"reporter"`
		Labels         []string        `json:"labels"`
		Components     []named         `json:"components"`
		StoryPoints    json.RawMessage `json:"customfield_10002"`
		EpicLink       json.RawMessage `json:"customfield_10014"`
		Sprint         json.RawMessage `json:"customfield_10020"`
		Parent         *struct {
			Key    string `json:"key"`
			Fields struct {
				IssueType *named `json:"issuetype"`
			} `json:"fields"`
		} `json:"parent"`
	} `json:"fields"`
}

type rawComment struct {
	ID      string          `json:"id"`
	Author  *person         `json:"author"`
	Body    json.RawMessage `json:"body"`
	Created string          `json:"created"`
}

type rawSprint struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Goal      string `json:"goal"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type rawEpic struct {
	ID      int    `json:"id"`
	Key     string `json:"key"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Done    bool   `json:"done"`
}

type comment struct {
	id, created, text string
}

// Build converts a snapshot into a processed set. It is deterministic for a
// given snapshot except for GeneratedAt, which the caller sets. Malformed
// records are skipped, logged and counted.
func Build(snap *models.Snapshot, logger *slog.Logger) (*models.ProcessedSet, []string) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &models.ProcessedSet{
		ProjectKey: snap.Metadata.ProjectKey,
		Issues:     []models.IssueRecord{},
		Sprints:    []models.SprintRecord{},
		Epics:      []models.EpicRecord{},
	}
	var warnings []string
	skip := func(t models.EntityType, id string, err error) {
		set.Skipped++
		logger.Warn("skipping malformed record", "entity", t, "id", id, "error", err)
		warnings = append(warnings, fmt.Sprintf("process %s %s: %v", t, id, err))
	}

	epics := make(map[string]models.EpicRecord)
	for _, item := range snap.Items[models.EntityEpic] {
		var e rawEpic
		if err := json.Unmarshal(item.Data, &e); err != nil {
			skip(models.EntityEpic, item.ID, err)
			continue
		}
		if e.Key == "" {
			skip(models.EntityEpic, item.ID, fmt.Errorf("missing key"))
			continue
		}
		rec := models.EpicRecord{
			ID:      item.ID,
			Key:     e.Key,
			Name:    CollapseSpace(e.Name),
			Summary: StripHTML(e.Summary),
			Done:    e.Done,
		}
		rec.Text = epicText(rec)
		epics[rec.Key] = rec
		set.Epics = append(set.Epics, rec)
	}

	for _, item := range snap.Items[models.EntitySprint] {
		var s rawSprint
		if err := json.Unmarshal(item.Data, &s); err != nil {
			skip(models.EntitySprint, item.ID, err)
			continue
		}
		if s.Name == "" {
			skip(models.EntitySprint, item.ID, fmt.Errorf("missing name"))
			continue
		}
		rec := models.SprintRecord{
			ID:        item.ID,
			Name:      CollapseSpace(s.Name),
			State:     s.State,
			Goal:      StripHTML(s.Goal),
			StartDate: dateOrEmpty(s.StartDate),
			EndDate:   dateOrEmpty(s.EndDate),
		}
		rec.Text = sprintText(rec)
		set.Sprints = append(set.Sprints, rec)
	}

	comments := make(map[string][]comment)
	for _, item := range snap.Items[models.EntityComment] {
		var c rawComment
		if err := json.Unmarshal(item.Data, &c); err != nil {
			skip(models.EntityComment, item.ID, err)
			continue
		}
		if item.Parent == "" {
			skip(models.EntityComment, item.ID, fmt.Errorf("missing issue key"))
			continue
		}
		body := TextOf(c.Body)
		if body == "" {
			continue
		}
		author := "Unknown"
		if c.Author != nil && c.Author.DisplayName != "" {
			author = c.Author.DisplayName
		}
		text := author + ": " + body
		if d := dateOrEmpty(c.Created); d != "" {
			text = fmt.Sprintf("%s (%s): %s", author, d, body)
		}
		comments[item.Parent] = append(comments[item.Parent], comment{id: c.ID, created: c.Created, text: text})
	}

	for _, item := range snap.Items[models.EntityIssue] {
		rec, err := buildIssue(item, epics, comments)
		if err != nil {
			skip(models.EntityIssue, item.ID, err)
			continue
		}
		set.Issues = append(set.Issues, rec)
	}

	sort.Slice(set.Issues, func(i, j int) bool { return issueLess(set.Issues[i].Key, set.Issues[j].Key) })
	sort.Slice(set.Sprints, func(i, j int) bool { return set.Sprints[i].ID < set.Sprints[j].ID })
	sort.Slice(set.Epics, func(i, j int) bool { return issueLess(set.Epics[i].Key, set.Epics[j].Key) })

	return set, warnings
}

func buildIssue(item models.RawItem, epics map[string]models.EpicRecord, comments map[string][]comment) (models.IssueRecord, error) {
	var ri rawIssue
	if err := json.Unmarshal(item.Data, &ri); err != nil {
		return models.IssueRecord{}, err
	}
	if ri.Key == "" {
		return models.IssueRecord{}, fmt.Errorf("missing key")
	}
	if ri.ID == "" {
		ri.ID = item.ID
	}
	f := ri.Fields

	rec := models.IssueRecord{
		ID:          ri.ID,
		Key:         ri.Key,
		Summary:     StripHTML(f.Summary),
		Description: TextOf(f.Description),
		IssueType:   nameOr(f.IssueType, "Unknown"),
		Status:      nameOr(f.Status, "Unknown"),
		Priority:    nameOr(f.Priority, "None"),
		Assignee:    personOr(f.Assignee, "Unassigned"),
		Reporter:    personOr(f.Reporter, "Unknown"),
		Created:     dateOrEmpty(f.Created),
		Updated:     dateOrEmpty(f.Updated),
		Resolved:    dateOrEmpty(f.ResolutionDate),
		Labels:      append([]string{}, f.Labels...),
		Components:  []string{},
		Sprint:      sprintName(f.Sprint),
	}
	sort.Strings(rec.Labels)
	for _, c := range f.Components {
		rec.Components = append(rec.Components, c.Name)
	}
	sort.Strings(rec.Components)
	var points float64
	if json.Unmarshal(f.StoryPoints, &points) == nil {
		rec.StoryPoints = points
	}

	// Custom fields vary by instance; a value of the wrong shape is ignored.
	_ = json.Unmarshal(f.EpicLink, &rec.EpicKey)
	if rec.EpicKey == "" && f.Parent != nil && f.Parent.Fields.IssueType != nil && f.Parent.Fields.IssueType.Name == "Epic" {
		rec.EpicKey = f.Parent.Key
	}
	if epic, ok := epics[rec.EpicKey]; ok {
		rec.EpicName = epic.Name
		rec.EpicSummary = epic.Summary
	}

	cs := comments[rec.Key]
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].created != cs[j].created {
			return cs[i].created < cs[j].created
		}
		return cs[i].id < cs[j].id
	})
	texts := make([]string, len(cs))
	for i, c := range cs {
		texts[i] = c.text
	}
	rec.Comments = strings.Join(texts, commentSeparator)
	rec.CommentCount = len(cs)

	rec.Text = issueText(rec)
	return rec, nil
}

var legacySprintName = regexp.MustCompile(`name=([^,\]]+)`)

// sprintName returns the most recent sprint of an issue. The field is a list
// of sprint objects, or of serialized strings on older servers.
func sprintName(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var objs []named
	if err := json.Unmarshal(raw, &objs); err == nil && len(objs) > 0 {
		return objs[len(objs)-1].Name
	}
	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil && len(strs) > 0 {
		if m := legacySprintName.FindStringSubmatch(strs[len(strs)-1]); m != nil {
			return m[1]
		}
	}
	return ""
}

func nameOr(n *named, fallback string) string {
	if n == nil || n.Name == "" {
		return fallback
	}
	return n.Name
}

func personOr(p *person, fallback string) string {
	if p == nil || p.DisplayName == "" {
		return fallback
	}
	return p.DisplayName
}

// issueLess orders keys like ABC-2 before ABC-10.
func issueLess(a, b string) bool {
	pa, na := splitKey(a)
	pb, nb := splitKey(b)
	if pa != pb {
		return pa < pb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitKey(k string) (string, int) {
	i := strings.LastIndexByte(k, '-')
	if i < 0 {
		return k, 0
	}
	n := 0
	for _, r := range k[i+1:] {
		if r < '0' || r > '9' {
			return k, 0
		}
		n = n*10 + int(r-'0')
	}
	return k[:i], n
}

func issueText(r models.IssueRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s - %s\n", r.Key, r.Summary)
	fmt.Fprintf(&b, "Type: %s\nStatus: %s\nPriority: %s\n", r.IssueType, r.Status, r.Priority)
	fmt.Fprintf(&b, "Assignee: %s\nReporter: %s\n", r.Assignee, r.Reporter)
	if r.Sprint != "" {
		fmt.Fprintf(&b, "Sprint: %s\n", r.Sprint)
	}
	if r.EpicKey != "" {
		fmt.Fprintf(&b, "Epic: %s %s\n", r.EpicKey, r.EpicName)
	}
	if len(r.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(r.Labels, ", "))
	}
	if r.Created != "" {
		fmt.Fprintf(&b, "Created: %s\n", r.Created)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", r.Description)
	}
	if r.Comments != "" {
		fmt.Fprintf(&b, "Comments: %s\n", r.Comments)
	}
	return strings.TrimSpace(b.String())
}

func sprintText(s models.SprintRecord) string {
	text := fmt.Sprintf("Sprint: %s\nState: %s", s.Name, s.State)
	if s.StartDate != "" || s.EndDate != "" {
		text += fmt.Sprintf("\nDates: %s to %s", s.StartDate, s.EndDate)
	}
	if s.Goal != "" {
		text += "\nGoal: " + s.Goal
	}
	return text
}

func epicText(e models.EpicRecord) string {
	state := "open"
	if e.Done {
		state = "done"
	}
	text := fmt.Sprintf("Epic: %s - %s\nState: %s", e.Key, e.Name, state)
	if e.Summary != "" {
		text += "\nSummary: " + e.Summary
	}
	return text
}
