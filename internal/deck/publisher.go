package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/state"
)

// ErrNothingPublished is returned when no static deck could be written.
var ErrNothingPublished = errors.New("no deck published")

// Registry remembers hosted deck ids and catalogs published decks.
type Registry interface {
	Deck(ctx context.Context, kind models.InsightKind) (*state.DeckRef, error)
	SetDeck(ctx context.Context, kind models.InsightKind, remoteID, url string) error
	ForgetDeck(ctx context.Context, kind models.InsightKind) error
	RecordPresentation(ctx context.Context, p models.Presentation) error
}

// Result is the outcome of one Publish call.
type Result struct {
	Presentations []models.Presentation
	Warnings      []string
	HostedSkipped bool
}

// Publisher writes a markdown deck per insight and, when a hosted client is
// configured, updates one hosted presentation per kind in place.
type Publisher struct {
	dir      string
	hosted   *HostedClient
	registry Registry
	logger   *slog.Logger
}

// NewPublisher creates a publisher. A nil hosted client disables hosted decks.
func NewPublisher(dir string, hosted *HostedClient, registry Registry, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		dir:      dir,
		hosted:   hosted,
		registry: registry,
		logger:   logger.With("component", "deck"),
	}
}

// Publish renders every insight. Failures are per kind; an error is only
// returned when no markdown deck could be written.
func (p *Publisher) Publish(ctx context.Context, insights []*models.Insight, runID string) (*Result, error) {
	res := &Result{HostedSkipped: p.hosted == nil}
	written := 0

	for _, ins := range insights {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := p.logger.With("kind", ins.Kind)

		path, err := WriteMarkdown(p.dir, ins)
		if err != nil && path == "" {
			log.Error("markdown deck failed", "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s markdown: %v", ins.Kind, err))
		} else {
			if err != nil {
				log.Warn("markdown deck written with warning", "error", err)
			}
			written++
			pres := models.Presentation{
				Kind:   ins.Kind,
				Format: state.FormatMarkdown,
				Title:  ins.Title,
				Path:   path,
				RunID:  runID,
			}
			p.record(ctx, &res.Warnings, pres)
			res.Presentations = append(res.Presentations, pres)
			log.Info("markdown deck written", "path", path)
		}

		if p.hosted == nil {
			continue
		}
		remote, err := p.publishHosted(ctx, ins)
		if err != nil {
			log.Error("hosted deck failed", "error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s hosted: %v", ins.Kind, err))
			continue
		}
		pres := models.Presentation{
			Kind:     ins.Kind,
			Format:   state.FormatHosted,
			Title:    ins.Title,
			RemoteID: remote.ID,
			URL:      remote.URL,
			RunID:    runID,
		}
		p.record(ctx, &res.Warnings, pres)
		res.Presentations = append(res.Presentations, pres)
		log.Info("hosted deck updated", "remote_id", remote.ID)
	}

	if len(insights) > 0 && written == 0 {
		return res, ErrNothingPublished
	}
	return res, nil
}

func (p *Publisher) record(ctx context.Context, warnings *[]string, pres models.Presentation) {
	if p.registry == nil {
		return
	}
	if err := p.registry.RecordPresentation(ctx, pres); err != nil {
		*warnings = append(*warnings, fmt.Sprintf("%s catalog: %v", pres.Kind, err))
	}
}

// publishHosted replaces the slides of the remembered presentation for the
// insight's kind, creating (and remembering) a new one on first use or when
// the remembered one was deleted remotely.
func (p *Publisher) publishHosted(ctx context.Context, ins *models.Insight) (*Remote, error) {
	slides := BuildSlides(ins)

	var ref *state.DeckRef
	if p.registry != nil {
		var err error
		if ref, err = p.registry.Deck(ctx, ins.Kind); err != nil {
			return nil, err
		}
	}

	if ref != nil {
		err := p.hosted.ReplaceSlides(ctx, ref.RemoteID, slides)
		var stale *StaleSlidesError
		if errors.As(err, &stale) {
			p.logger.Warn("hosted deck kept stale slides", "kind", ins.Kind, "remote_id", ref.RemoteID,
				"slide_ids", stale.SlideIDs, "error", stale.Err)
			err = nil
		}
		if err == nil {
			if err := p.hosted.Rename(ctx, ref.RemoteID, ins.Title, Subtitle(ins)); err != nil && !errors.Is(err, ErrNotFound) {
				p.logger.Warn("rename hosted deck", "remote_id", ref.RemoteID, "error", err)
			}
			return &Remote{ID: ref.RemoteID, URL: ref.URL}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		p.logger.Warn("hosted deck gone, recreating", "kind", ins.Kind, "remote_id", ref.RemoteID)
		if err := p.registry.ForgetDeck(ctx, ins.Kind); err != nil {
			return nil, err
		}
	}

	remote, err := p.hosted.Create(ctx, ins.Title, Subtitle(ins))
	if err != nil {
		return nil, fmt.Errorf("create presentation: %w", err)
	}
	if p.registry != nil {
		if err := p.registry.SetDeck(ctx, ins.Kind, remote.ID, remote.URL); err != nil {
			return nil, err
		}
	}
	for i, s := range slides {
		if _, err := p.hosted.AddSlide(ctx, remote.ID, s); err != nil {
			return remote, fmt.Errorf("add slide %d: %w", i, err)
		}
	}
	return remote, nil
}
