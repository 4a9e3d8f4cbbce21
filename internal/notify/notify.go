// Package notify publishes pipeline run lifecycle events.
package notify

import (
	"context"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/models"
)

// Event types.
const (
	RunStarted  = "run.started"
	StageDone   = "run.stage"
	RunFinished = "run.finished"
)

// Event is one run lifecycle notification.
type Event struct {
	Type       string           `json:"type"`
	RunID      string           `json:"run_id"`
	ProjectKey string           `json:"project_key"`
	Status     models.RunStatus `json:"status"`
	Stage      string           `json:"stage,omitempty"`
	Error      string           `json:"error,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Subject is the bus subject the event is published on.
func (e Event) Subject() string {
	return "events." + e.Type
}

// NewEvent builds an event from the current state of a run.
func NewEvent(eventType string, rec models.RunRecord, stage string) Event {
	return Event{
		Type:       eventType,
		RunID:      rec.ID,
		ProjectKey: rec.ProjectKey,
		Status:     rec.Status,
		Stage:      stage,
		Error:      rec.Error,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher sends run events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}
