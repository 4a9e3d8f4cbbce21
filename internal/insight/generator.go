// Package insight turns indexed tracker documents into structured LLM summaries.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/raphaelgruber/insightdeck/internal/artifact"
	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/llm"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/raphaelgruber/insightdeck/internal/models"
)

// ErrAllFailed is returned when no requested kind produced an insight.
var ErrAllFailed = errors.New("all insight kinds failed")

const (
	// contextLimit is the number of semantically retrieved context documents.
	contextLimit = 25
	// summaryLimit bounds the issues fed into the distribution summaries.
	summaryLimit = 5000
	keepInsights = 48
)

// Searcher retrieves documents from the index.
type Searcher interface {
	Search(ctx context.Context, q index.Query) ([]models.Document, error)
}

// Completer calls a completion model.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (llm.Completion, error)
	Model() string
}

// Options configures a Generator.
type Options struct {
	// Budget is the prompt token budget (system + user).
	Budget int
	// RetryDelay is the wait before the single retry of a transient failure.
	RetryDelay time.Duration
}

// Result is the outcome of one Generate call.
type Result struct {
	Insights []*models.Insight
	Paths    map[models.InsightKind]string
	Failed   map[models.InsightKind]string
	Warnings []string
}

// Generator produces insights of each requested kind.
type Generator struct {
	search  Searcher
	model   Completer
	tokens  *TokenCounter
	opts    Options
	dir     string
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewGenerator creates a generator writing insight files to dir.
func NewGenerator(search Searcher, model Completer, dir string, opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Budget <= 0 {
		opts.Budget = 6000
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	tc, err := NewTokenCounter()
	if err != nil {
		logger.Warn("tokenizer unavailable, estimating prompt size", "error", err)
	}
	return &Generator{
		search:  search,
		model:   model,
		tokens:  tc,
		opts:    opts,
		dir:     dir,
		metrics: metrics.Nop{},
		logger:  logger.With("component", "insight"),
		now:     time.Now,
	}
}

// SetRecorder sends completion usage to r.
func (g *Generator) SetRecorder(r metrics.Recorder) {
	g.metrics = r
}

// Generate produces one insight per kind in order. A kind that fails is
// recorded in Result.Failed and the others continue; if every kind fails
// the error wraps ErrAllFailed, or llm.ErrFatalAPI when the provider rejected us.
func (g *Generator) Generate(ctx context.Context, kinds []models.InsightKind, question string) (*Result, error) {
	if len(kinds) == 0 {
		kinds = models.DefaultInsightKinds
	}

	issues, err := g.search.Search(ctx, index.Query{Collection: models.CollectionIssue, Limit: summaryLimit})
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}

	res := &Result{
		Paths:  make(map[models.InsightKind]string),
		Failed: make(map[models.InsightKind]string),
	}
	ts := models.FileTimestamp(g.now())
	var fatal error

	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		log := g.logger.With("kind", kind)
		ins, err := g.generateKind(ctx, kind, question, issues)
		if err != nil {
			if errors.Is(err, llm.ErrFatalAPI) {
				fatal = err
			}
			log.Error("insight failed", "error", err)
			res.Failed[kind] = err.Error()
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", kind, err))
			continue
		}

		path := filepath.Join(g.dir, fmt.Sprintf("%s_%s.json", kind, ts))
		if err := artifact.WriteJSON(path, ins); err != nil {
			res.Failed[kind] = err.Error()
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", kind, err))
			continue
		}
		if _, err := artifact.Prune(g.dir, string(kind)+"_", ".json", keepInsights); err != nil {
			log.Warn("prune insights", "error", err)
		}

		res.Insights = append(res.Insights, ins)
		res.Paths[kind] = path
		log.Info("insight generated", "sections", len(ins.Sections), "documents", ins.DocumentCount, "path", path)
	}

	if len(res.Insights) == 0 {
		if fatal != nil {
			return res, fmt.Errorf("%w: %w", ErrAllFailed, fatal)
		}
		return res, ErrAllFailed
	}
	return res, nil
}

func (g *Generator) generateKind(ctx context.Context, kind models.InsightKind, question string, issues []models.Document) (*models.Insight, error) {
	def, ok := Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("unknown insight kind %q", kind)
	}
	if kind == models.InsightQuery && question == "" {
		return nil, errors.New("query insight needs a question")
	}

	retrieval := def.Retrieval
	if kind == models.InsightQuery {
		retrieval = question
	}
	docs, err := g.search.Search(ctx, index.Query{Text: retrieval, Collection: models.CollectionIssue, Limit: contextLimit})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	prompt := BuildPrompt(def, question, def.Summarize(issues), docs, g.tokens, g.opts.Budget)
	if prompt.Dropped > 0 {
		g.logger.Debug("trimmed prompt context", "kind", kind, "dropped", prompt.Dropped, "tokens", prompt.Tokens)
	}

	completion, err := g.complete(ctx, kind, prompt.Text)
	if err != nil {
		return nil, err
	}

	return &models.Insight{
		Kind:          kind,
		Title:         def.Title,
		Question:      question,
		GeneratedAt:   g.now().UTC(),
		Model:         g.model.Model(),
		DocumentCount: len(issues),
		Sections:      Parse(completion.Text),
		Raw:           completion.Text,
	}, nil
}

// complete calls the model, retrying once after a transient failure.
func (g *Generator) complete(ctx context.Context, kind models.InsightKind, prompt string) (llm.Completion, error) {
	var out llm.Completion
	op := func() error {
		c, err := g.model.Complete(ctx, SystemPrompt, prompt)
		g.metrics.ObserveLLM(g.model.Model(), string(kind), err == nil, c.InputTokens, c.OutputTokens, c.Duration)
		if err != nil {
			if !llm.IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = c
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(g.opts.RetryDelay), 1), ctx)
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("completion failed, retrying", "kind", kind, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return llm.Completion{}, err
	}
	return out, nil
}

// LatestInsights loads the newest insight file of each kind found in dir.
func LatestInsights(dir string, kinds []models.InsightKind) ([]*models.Insight, error) {
	if len(kinds) == 0 {
		kinds = models.DefaultInsightKinds
	}
	var out []*models.Insight
	for _, kind := range kinds {
		path, err := artifact.Latest(dir, string(kind)+"_", ".json")
		if errors.Is(err, artifact.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var ins models.Insight
		if err := artifact.ReadJSON(path, &ins); err != nil {
			return nil, err
		}
		out = append(out, &ins)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no insights in %s: %w", dir, artifact.ErrNotFound)
	}
	return out, nil
}
