package service

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/insight"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/processor"
)

// runState carries stage outputs to the next stage within one run.
type runState struct {
	runID    string
	req      Request
	set      *models.ProcessedSet
	insights []*models.Insight
}

func (p *Pipeline) extract(ctx context.Context, run *runState, res *models.StageResult) error {
	out, err := p.deps.Extractor.Extract(ctx, run.req.ProjectKey)
	if err != nil {
		return err
	}
	res.Artifact = filepath.Base(out.Path)
	for _, n := range out.Snapshot.Metadata.Counts {
		res.Count += n
	}
	res.Warnings = append(res.Warnings, out.Warnings...)
	return nil
}

func (p *Pipeline) process(ctx context.Context, run *runState, res *models.StageResult) error {
	out, err := p.deps.Processor.Process(ctx, run.req.ProjectKey)
	if err != nil {
		return err
	}
	run.set = out.Set
	res.Artifact = filepath.Base(out.Path)
	res.Count = len(out.Set.Issues)
	res.Warnings = append(res.Warnings, out.Warnings...)
	return nil
}

func (p *Pipeline) index(ctx context.Context, run *runState, res *models.StageResult) error {
	if run.set == nil {
		if err := p.loadRecords(run); err != nil {
			return err
		}
	}
	out, err := p.deps.Indexer.Import(ctx, run.set.Documents())
	if err != nil {
		return err
	}
	res.Count = out.Indexed
	res.Warnings = append(res.Warnings, out.Warnings...)
	return nil
}

func (p *Pipeline) insights(ctx context.Context, run *runState, res *models.StageResult) error {
	kinds := run.req.Kinds
	if len(kinds) == 0 {
		kinds = models.DefaultInsightKinds
	}
	if run.req.Question != "" && !slices.Contains(kinds, models.InsightQuery) {
		kinds = append(append([]models.InsightKind(nil), kinds...), models.InsightQuery)
	}

	out, err := p.deps.Generator.Generate(ctx, kinds, run.req.Question)
	if out != nil {
		res.Warnings = append(res.Warnings, out.Warnings...)
	}
	if err != nil {
		return err
	}
	run.insights = out.Insights
	res.Count = len(out.Insights)
	return nil
}

func (p *Pipeline) publishDecks(ctx context.Context, run *runState, res *models.StageResult) error {
	if run.insights == nil {
		ins, err := insight.LatestInsights(p.deps.InsightDir, run.req.Kinds)
		if err != nil {
			return fmt.Errorf("load insights: %w", err)
		}
		run.insights = ins
	}

	out, err := p.deps.Publisher.Publish(ctx, run.insights, run.runID)
	if out != nil {
		res.Count = len(out.Presentations)
		res.Warnings = append(res.Warnings, out.Warnings...)
	}
	return err
}

// reuse completes a skipped stage from the latest artifact of a previous run.
func (p *Pipeline) reuse(run *runState, stage string, res *models.StageResult) error {
	switch stage {
	case config.StageProcess:
		if err := p.loadRecords(run); err != nil {
			return err
		}
		res.Count = len(run.set.Issues)
		res.Artifact = run.set.SourceFile
	case config.StageInsight:
		ins, err := insight.LatestInsights(p.deps.InsightDir, run.req.Kinds)
		if err != nil {
			return fmt.Errorf("load insights: %w", err)
		}
		run.insights = ins
		res.Count = len(ins)
	}
	// extract, index and publish leave nothing the next stage reads in memory:
	// process reads the latest snapshot file and insights query the index.
	return nil
}

func (p *Pipeline) loadRecords(run *runState) error {
	path, err := processor.LatestRecords(p.deps.ProcessedDir, run.req.ProjectKey)
	if err != nil {
		return fmt.Errorf("no processed records to reuse: %w", err)
	}
	set, err := processor.LoadRecords(path)
	if err != nil {
		return err
	}
	run.set = set
	return nil
}
