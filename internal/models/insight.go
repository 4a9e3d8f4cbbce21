package models

import "time"

// InsightKind names one family of generated insights.
type InsightKind string

const (
	InsightGeneral  InsightKind = "general"
	InsightSprint   InsightKind = "sprint"
	InsightTeam     InsightKind = "team"
	InsightPriority InsightKind = "priority"
	InsightQuery    InsightKind = "query"
)

// DefaultInsightKinds are generated on every run, in this order.
var DefaultInsightKinds = []InsightKind{InsightGeneral, InsightSprint, InsightTeam, InsightPriority}

// BodySection holds the raw completion when no sections could be parsed.
const BodySection = "body"

// Section is a named group of insight lines.
type Section struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

// Insight is the parsed result of one completion call.
type Insight struct {
	Kind          InsightKind `json:"kind"`
	Title         string      `json:"title"`
	Question      string      `json:"question,omitempty"`
	GeneratedAt   time.Time   `json:"generated_at"`
	Model         string      `json:"model"`
	DocumentCount int         `json:"document_count"`
	Sections      []Section   `json:"sections"`
	Raw           string      `json:"raw"`
}

// Section returns the named section, or nil.
func (i *Insight) Section(name string) *Section {
	for idx := range i.Sections {
		if i.Sections[idx].Name == name {
			return &i.Sections[idx]
		}
	}
	return nil
}
