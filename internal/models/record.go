package models

import "time"

// Collection names in the vector index.
const (
	CollectionIssue  = "issue"
	CollectionSprint = "sprint"
	CollectionEpic   = "epic"
)

// Collections lists every index collection.
var Collections = []string{CollectionIssue, CollectionSprint, CollectionEpic}

// IssueRecord is a cleaned issue with its comments, epic and sprint merged in.
type IssueRecord struct {
	ID           string   `json:"id"`
	Key          string   `json:"key"`
	Summary      string   `json:"summary"`
	Description  string   `json:"description"`
	IssueType    string   `json:"issue_type"`
	Status       string   `json:"status"`
	Priority     string   `json:"priority"`
	Assignee     string   `json:"assignee"`
	Reporter     string   `json:"reporter"`
	Created      string   `json:"created"`
	Updated      string   `json:"updated"`
	Resolved     string   `json:"resolved,omitempty"`
	Labels       []string `json:"labels"`
	Components   []string `json:"components"`
	StoryPoints  float64  `json:"story_points,omitempty"`
	EpicKey      string   `json:"epic_key,omitempty"`
	EpicName     string   `json:"epic_name,omitempty"`
	EpicSummary  string   `json:"epic_summary,omitempty"`
	Sprint       string   `json:"sprint,omitempty"`
	Comments     string   `json:"comments,omitempty"`
	CommentCount int      `json:"comment_count"`
	Text         string   `json:"text"`
}

// SprintRecord is a cleaned sprint.
type SprintRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	Goal      string `json:"goal,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	Text      string `json:"text"`
}

// EpicRecord is a cleaned epic.
type EpicRecord struct {
	ID      string `json:"id"`
	Key     string `json:"key"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Done    bool   `json:"done"`
	Text    string `json:"text"`
}

// ProcessedSet is the processor output for one snapshot.
type ProcessedSet struct {
	ProjectKey  string         `json:"project_key"`
	GeneratedAt time.Time      `json:"generated_at"`
	SourceFile  string         `json:"source_file"`
	Issues      []IssueRecord  `json:"issues"`
	Sprints     []SprintRecord `json:"sprints"`
	Epics       []EpicRecord   `json:"epics"`
	Skipped     int            `json:"skipped"`
}

// Document is a record as stored in the vector index.
type Document struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	IssueType  string    `json:"issue_type,omitempty"`
	Status     string    `json:"status,omitempty"`
	Priority   string    `json:"priority,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	Sprint     string    `json:"sprint,omitempty"`
	Updated    string    `json:"updated,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Score      float64   `json:"score,omitempty"`
}

// Documents converts a processed set into index documents, issues first.
func (p *ProcessedSet) Documents() []Document {
	docs := make([]Document, 0, len(p.Issues)+len(p.Sprints)+len(p.Epics))
	for _, r := range p.Issues {
		docs = append(docs, Document{
			Collection: CollectionIssue,
			ID:         r.ID,
			Key:        r.Key,
			Title:      r.Summary,
			Text:       r.Text,
			IssueType:  r.IssueType,
			Status:     r.Status,
			Priority:   r.Priority,
			Assignee:   r.Assignee,
			Sprint:     r.Sprint,
			Updated:    r.Updated,
		})
	}
	for _, s := range p.Sprints {
		docs = append(docs, Document{
			Collection: CollectionSprint,
			ID:         s.ID,
			Key:        s.ID,
			Title:      s.Name,
			Text:       s.Text,
			Status:     s.State,
			Sprint:     s.Name,
			Updated:    s.EndDate,
		})
	}
	for _, e := range p.Epics {
		status := "open"
		if e.Done {
			status = "done"
		}
		docs = append(docs, Document{
			Collection: CollectionEpic,
			ID:         e.ID,
			Key:        e.Key,
			Title:      e.Name,
			Text:       e.Text,
			Status:     status,
		})
	}
	return docs
}

// Filters narrows a document query to exact field values. Empty slices match everything.
type Filters struct {
	IssueTypes []string `json:"issue_types,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
	Assignees  []string `json:"assignees,omitempty"`
	Sprints    []string `json:"sprints,omitempty"`
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return len(f.IssueTypes) == 0 && len(f.Statuses) == 0 && len(f.Priorities) == 0 &&
		len(f.Assignees) == 0 && len(f.Sprints) == 0
}

// Match reports whether d passes every set filter.
func (f Filters) Match(d Document) bool {
	return matchAny(f.IssueTypes, d.IssueType) && matchAny(f.Statuses, d.Status) &&
		matchAny(f.Priorities, d.Priority) && matchAny(f.Assignees, d.Assignee) &&
		matchAny(f.Sprints, d.Sprint)
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
