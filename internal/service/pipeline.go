// Package service runs the extract → process → index → insights → publish
// pipeline, one run at a time.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/deck"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/insight"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/notify"
	"github.com/raphaelgruber/insightdeck/internal/processor"
	"github.com/raphaelgruber/insightdeck/internal/tracker"
)

// ErrAlreadyRunning is returned by Trigger while another run is in progress.
var ErrAlreadyRunning = errors.New("already running")

// StageError is a fatal failure of one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage dependencies. The concrete implementations live in their own packages.
type (
	Extractor interface {
		Extract(ctx context.Context, projectKey string) (*tracker.Result, error)
	}
	Processor interface {
		Process(ctx context.Context, projectKey string) (*processor.Result, error)
	}
	Indexer interface {
		Import(ctx context.Context, docs []models.Document) (index.ImportResult, error)
	}
	Generator interface {
		Generate(ctx context.Context, kinds []models.InsightKind, question string) (*insight.Result, error)
	}
	Publisher interface {
		Publish(ctx context.Context, insights []*models.Insight, runID string) (*deck.Result, error)
	}
	RunStore interface {
		SaveRun(ctx context.Context, rec models.RunRecord) error
		LastFinishedRun(ctx context.Context) (*models.RunRecord, error)
		MarkStaleRuns(ctx context.Context, reason string) (int, error)

		// The run lock is shared by every process using the same store.
		AcquireRunLock(ctx context.Context, owner, runID string) (bool, error)
		HeartbeatRunLock(ctx context.Context, owner string) (bool, error)
		ReleaseRunLock(ctx context.Context, owner string) error
	}
)

// lockHeartbeat is how often a running pipeline refreshes its run lock.
const lockHeartbeat = 30 * time.Second

// Deps wires the stages into a Pipeline.
type Deps struct {
	Extractor Extractor
	Processor Processor
	Indexer   Indexer
	Generator Generator
	Publisher Publisher
	Runs      RunStore

	// ProcessedDir and InsightDir are read when the producing stage is skipped.
	ProcessedDir string
	InsightDir   string

	Metrics metrics.Recorder
	Events  notify.Publisher
}

// Request describes one run.
type Request struct {
	ProjectKey string
	// Trigger names who started the run ("api", "schedule", "cli").
	Trigger string
	// Skip lists stages that reuse the latest artifact of the previous run.
	Skip []string
	// Kinds overrides the insight kinds; empty means the defaults.
	Kinds []models.InsightKind
	// Question is answered by an extra query insight when set.
	Question string
}

// RunResult is returned by Trigger.
type RunResult struct {
	RunID   string           `json:"run_id"`
	Status  models.RunStatus `json:"status"`
	Message string           `json:"message"`
}

// Status is the pollable state of the pipeline.
type Status struct {
	// State is "running" or "idle".
	State string `json:"state"`
	// Components maps each stage to whether it completed in the current run,
	// or in the last finished run when idle.
	Components map[string]bool   `json:"components"`
	LastRunAt  *time.Time        `json:"last_run_at,omitempty"`
	LastStatus models.RunStatus  `json:"last_status,omitempty"`
	Current    *models.RunRecord `json:"current,omitempty"`
	Last       *models.RunRecord `json:"last,omitempty"`
}

// Pipeline sequences the stages. At most one run executes at a time, across
// every pipeline sharing the same run store.
type Pipeline struct {
	deps    Deps
	logger  *slog.Logger
	owner   string
	running atomic.Bool

	mu      sync.RWMutex
	current *models.RunRecord
	last    *models.RunRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New creates a pipeline. Asynchronous runs use an internal context that
// Shutdown cancels.
func New(deps Deps, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Events == nil {
		deps.Events = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		deps:   deps,
		owner:  lockOwner(),
		logger: logger.With("component", "pipeline"),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Recover marks runs left running by a process that no longer holds the run
// lock as failed.
func (p *Pipeline) Recover(ctx context.Context) (int, error) {
	n, err := p.deps.Runs.MarkStaleRuns(ctx, "interrupted")
	if err != nil {
		return 0, fmt.Errorf("recover stale runs: %w", err)
	}
	if n > 0 {
		p.logger.Warn("marked interrupted runs as failed", "count", n)
	}
	return n, nil
}

// Trigger starts a run for projectKey in the background.
func (p *Pipeline) Trigger(ctx context.Context, projectKey string) (RunResult, error) {
	return p.Start(ctx, Request{ProjectKey: projectKey, Trigger: "api"})
}

// Start starts req in the background and returns immediately. It fails with
// ErrAlreadyRunning, without queueing, when a run is in progress.
func (p *Pipeline) Start(ctx context.Context, req Request) (RunResult, error) {
	rec, err := p.begin(ctx, req)
	if errors.Is(err, ErrAlreadyRunning) {
		return RunResult{Status: models.RunRunning, Message: "a run is already in progress"}, err
	}
	if err != nil {
		return RunResult{Status: models.RunFailed, Message: err.Error()}, err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.execute(p.ctx, rec, req)
	}()

	return RunResult{RunID: rec.ID, Status: models.RunRunning, Message: "run started"}, nil
}

// RunSync executes req on the calling goroutine and returns the final record.
func (p *Pipeline) RunSync(ctx context.Context, req Request) (*models.RunRecord, error) {
	rec, err := p.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	final := p.execute(ctx, rec, req)
	if final.Status == models.RunFailed {
		return final, &StageError{Stage: final.FailedStage, Err: errors.New(final.Error)}
	}
	return final, nil
}

// begin takes the run flag and persists the new run record.
func (p *Pipeline) begin(ctx context.Context, req Request) (*models.RunRecord, error) {
	if req.ProjectKey == "" {
		return nil, errors.New("project key is required")
	}
	for _, s := range req.Skip {
		if !slices.Contains(config.Stages, s) {
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	if req.Trigger == "" {
		req.Trigger = "api"
	}
	rec := &models.RunRecord{
		ID:         uuid.New().String()[:8],
		ProjectKey: req.ProjectKey,
		Trigger:    req.Trigger,
		Status:     models.RunPending,
		StartedAt:  p.now().UTC(),
	}

	ok, err := p.deps.Runs.AcquireRunLock(ctx, p.owner, rec.ID)
	if err != nil {
		p.running.Store(false)
		return nil, err
	}
	if !ok {
		p.running.Store(false)
		return nil, ErrAlreadyRunning
	}
	if err := p.deps.Runs.SaveRun(ctx, *rec); err != nil {
		p.releaseLock(context.WithoutCancel(ctx))
		p.running.Store(false)
		return nil, fmt.Errorf("save run: %w", err)
	}

	p.mu.Lock()
	p.current = rec
	p.mu.Unlock()

	p.logger.Info("run accepted", "run_id", rec.ID, "project", rec.ProjectKey, "trigger", rec.Trigger)
	return rec, nil
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Status returns the current state. It never blocks on a running stage.
func (p *Pipeline) Status(ctx context.Context) Status {
	p.mu.RLock()
	var current, last *models.RunRecord
	if p.current != nil {
		c := cloneRecord(*p.current)
		current = &c
	}
	if p.last != nil {
		l := cloneRecord(*p.last)
		last = &l
	}
	p.mu.RUnlock()

	if last == nil {
		stored, err := p.deps.Runs.LastFinishedRun(ctx)
		if err != nil {
			p.logger.Warn("load last run", "error", err)
		}
		last = stored
	}

	st := Status{State: "idle", Components: make(map[string]bool, len(config.Stages)), Current: current, Last: last}
	source := last
	if current != nil {
		st.State = "running"
		source = current
	}
	for _, stage := range config.Stages {
		st.Components[stage] = false
		if source == nil {
			continue
		}
		if r := source.Stage(stage); r != nil {
			st.Components[stage] = r.Completed
		}
	}
	if last != nil {
		st.LastRunAt = last.FinishedAt
		st.LastStatus = last.Status
	}
	return st
}

// Shutdown cancels in-flight runs and waits for them to record their outcome.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs every stage of rec and always releases the run flag and lock.
func (p *Pipeline) execute(ctx context.Context, rec *models.RunRecord, req Request) *models.RunRecord {
	stopHeartbeat := p.keepLock(ctx, rec.ID)
	defer func() {
		stopHeartbeat()
		p.releaseLock(context.WithoutCancel(ctx))
		p.running.Store(false)
	}()

	log := p.logger.With("run_id", rec.ID, "project", rec.ProjectKey)
	p.update(rec, func(r *models.RunRecord) { r.Status = models.RunRunning })
	p.persist(ctx, rec)
	p.publish(ctx, notify.RunStarted, rec, "")

	run := &runState{runID: rec.ID, req: req}
	stages := []struct {
		name string
		fn   func(context.Context, *runState, *models.StageResult) error
	}{
		{config.StageExtract, p.extract},
		{config.StageProcess, p.process},
		{config.StageIndex, p.index},
		{config.StageInsight, p.insights},
		{config.StagePublish, p.publishDecks},
	}

	var fatal *StageError
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			fatal = &StageError{Stage: s.name, Err: err}
			break
		}
		if err := p.runStage(ctx, rec, run, s.name, s.fn); err != nil {
			fatal = &StageError{Stage: s.name, Err: err}
			break
		}
	}

	finished := p.now().UTC()
	p.update(rec, func(r *models.RunRecord) {
		r.FinishedAt = &finished
		switch {
		case fatal != nil:
			r.Status = models.RunFailed
			r.FailedStage = fatal.Stage
			r.Error = fatal.Err.Error()
		case len(r.Warnings()) > 0:
			r.Status = models.RunPartial
		default:
			r.Status = models.RunSuccess
		}
	})
	p.persist(context.WithoutCancel(ctx), rec)

	final := p.snapshot(rec)
	p.mu.Lock()
	p.current = nil
	p.last = &final
	p.mu.Unlock()

	p.deps.Metrics.ObserveRun(string(final.Status), finished.Sub(final.StartedAt))
	p.publish(context.WithoutCancel(ctx), notify.RunFinished, rec, final.FailedStage)

	if fatal != nil {
		log.Error("run failed", "stage", fatal.Stage, "error", fatal.Err)
	} else {
		log.Info("run finished", "status", final.Status, "warnings", len(final.Warnings()),
			"duration_ms", finished.Sub(final.StartedAt).Milliseconds())
	}
	return &final
}

// keepLock refreshes the run lock until the returned func is called.
func (p *Pipeline) keepLock(ctx context.Context, runID string) (stop func()) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(lockHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := p.deps.Runs.HeartbeatRunLock(ctx, p.owner)
				switch {
				case err != nil:
					p.logger.Warn("run lock heartbeat failed", "run_id", runID, "error", err)
				case !ok:
					p.logger.Warn("run lock lost", "run_id", runID)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (p *Pipeline) releaseLock(ctx context.Context) {
	if err := p.deps.Runs.ReleaseRunLock(ctx, p.owner); err != nil {
		p.logger.Warn("release run lock", "error", err)
	}
}

// lockOwner identifies this pipeline instance in the shared run lock.
func lockOwner() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.New().String()[:8])
}

// runStage executes one stage, turning panics into errors and recording the
// stage result on rec.
func (p *Pipeline) runStage(ctx context.Context, rec *models.RunRecord, run *runState, name string,
	fn func(context.Context, *runState, *models.StageResult) error,
) (err error) {
	started := p.now().UTC()
	res := models.StageResult{Stage: name, StartedAt: &started}
	p.update(rec, func(r *models.RunRecord) { r.Stages = append(r.Stages, res) })
	p.persist(ctx, rec)

	log := p.logger.With("run_id", rec.ID, "stage", name)
	skipped := slices.Contains(run.req.Skip, name)
	log.Info("stage started", "skipped", skipped)

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("stage panicked", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("internal panic: %v", r)
			}
		}()
		if skipped {
			res.Skipped = true
			err = p.reuse(run, name, &res)
			return
		}
		err = fn(ctx, run, &res)
	}()

	finished := p.now().UTC()
	res.FinishedAt = &finished
	res.Completed = err == nil
	p.update(rec, func(r *models.RunRecord) { *r.Stage(name) = res })
	p.persist(ctx, rec)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "failed"
	case res.Skipped:
		outcome = "skipped"
	case len(res.Warnings) > 0:
		outcome = "partial"
	}
	p.deps.Metrics.ObserveStage(name, outcome, finished.Sub(started))
	p.publish(ctx, notify.StageDone, rec, name)

	if err == nil {
		log.Info("stage finished", "outcome", outcome, "count", res.Count, "warnings", len(res.Warnings),
			"duration_ms", finished.Sub(started).Milliseconds())
	}
	return err
}

// update mutates rec under the status lock.
func (p *Pipeline) update(rec *models.RunRecord, fn func(*models.RunRecord)) {
	p.mu.Lock()
	fn(rec)
	p.mu.Unlock()
}

func (p *Pipeline) snapshot(rec *models.RunRecord) models.RunRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneRecord(*rec)
}

// persist saves rec. A failed save is logged; the run continues.
func (p *Pipeline) persist(ctx context.Context, rec *models.RunRecord) {
	if err := p.deps.Runs.SaveRun(ctx, p.snapshot(rec)); err != nil {
		p.logger.Warn("failed to persist run", "run_id", rec.ID, "error", err)
	}
}

func (p *Pipeline) publish(ctx context.Context, eventType string, rec *models.RunRecord, stage string) {
	e := notify.NewEvent(eventType, p.snapshot(rec), stage)
	if err := p.deps.Events.Publish(ctx, e); err != nil {
		p.logger.Warn("failed to publish run event", "type", eventType, "run_id", rec.ID, "error", err)
	}
}

func cloneRecord(r models.RunRecord) models.RunRecord {
	r.Stages = slices.Clone(r.Stages)
	for i := range r.Stages {
		r.Stages[i].Warnings = slices.Clone(r.Stages[i].Warnings)
	}
	return r
}
