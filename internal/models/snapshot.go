package models

import (
	"encoding/json"
	"time"
)

// EntityType identifies a kind of tracker record.
type EntityType string

const (
	EntityProject EntityType = "projects"
	EntityBoard   EntityType = "boards"
	EntitySprint  EntityType = "sprints"
	EntityEpic    EntityType = "epics"
	EntityIssue   EntityType = "issues"
	EntityComment EntityType = "comments"
)

// EntityTypes lists the extracted entity types in extraction order.
var EntityTypes = []EntityType{
	EntityProject, EntityBoard, EntitySprint, EntityEpic, EntityIssue, EntityComment,
}

// RawItem is a tracker record exactly as it was fetched. Parent is the owning
// record: the issue key for comments, the board id for sprints and epics.
type RawItem struct {
	ID     string          `json:"id"`
	Parent string          `json:"parent,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// SnapshotMetadata describes one extraction.
type SnapshotMetadata struct {
	ProjectKey  string                `json:"project_key"`
	ExtractedAt time.Time             `json:"extracted_at"`
	Counts      map[EntityType]int    `json:"counts"`
	Failures    map[EntityType]string `json:"failures,omitempty"`
}

// Snapshot is the complete output of one extraction run.
type Snapshot struct {
	Metadata SnapshotMetadata         `json:"metadata"`
	Items    map[EntityType][]RawItem `json:"items"`
}

// NewSnapshot returns an empty snapshot for a project.
func NewSnapshot(projectKey string, at time.Time) *Snapshot {
	return &Snapshot{
		Metadata: SnapshotMetadata{
			ProjectKey:  projectKey,
			ExtractedAt: at.UTC(),
			Counts:      make(map[EntityType]int),
			Failures:    make(map[EntityType]string),
		},
		Items: make(map[EntityType][]RawItem),
	}
}

// Add appends items of a type and updates the count.
func (s *Snapshot) Add(t EntityType, items ...RawItem) {
	s.Items[t] = append(s.Items[t], items...)
	s.Metadata.Counts[t] = len(s.Items[t])
}
