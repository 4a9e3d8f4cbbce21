package models

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending RunStatus = "pending"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	// RunPartial is a success with recorded per-item failures.
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

// StageResult records what one stage did during a run.
type StageResult struct {
	Stage      string     `json:"stage"`
	Completed  bool       `json:"completed"`
	Skipped    bool       `json:"skipped,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Artifact   string     `json:"artifact,omitempty"`
	Count      int        `json:"count,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// RunRecord is the durable record of one pipeline run.
type RunRecord struct {
	ID          string        `json:"id"`
	ProjectKey  string        `json:"project_key"`
	Trigger     string        `json:"trigger"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Error       string        `json:"error,omitempty"`
	Stages      []StageResult `json:"stages"`
}

// Stage returns the result for a stage, or nil if it has not started.
func (r *RunRecord) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Warnings collects all stage warnings in stage order.
func (r *RunRecord) Warnings() []string {
	var out []string
	for _, s := range r.Stages {
		out = append(out, s.Warnings...)
	}
	return out
}

// Presentation is a published deck.
type Presentation struct {
	Kind      InsightKind `json:"kind"`
	Format    string      `json:"format"` // "markdown" or "hosted"
	Title     string      `json:"title"`
	Path      string      `json:"path,omitempty"`
	RemoteID  string      `json:"remote_id,omitempty"`
	URL       string      `json:"url,omitempty"`
	RunID     string      `json:"run_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
