// Package deck renders insights as slide decks: a Marp markdown file per run
// and a hosted presentation that is updated in place.
package deck

import (
	"github.com/raphaelgruber/insightdeck/internal/models"
)

// Slide types understood by the hosted deck API.
const (
	SlideTitle   = "title"
	SlideSection = "section"
	SlideBullets = "bullets"
)

// Slide is one slide in deck order.
type Slide struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Content map[string]any `json:"content"`
}

// Subtitle is the title slide's subtitle for ins.
func Subtitle(ins *models.Insight) string {
	return "Generated on " + ins.GeneratedAt.UTC().Format("2006-01-02")
}

// BuildSlides lays out ins as a title slide followed by a section slide and a
// bullet slide per insight section, in section order.
func BuildSlides(ins *models.Insight) []Slide {
	slides := []Slide{{
		Type:    SlideTitle,
		Title:   ins.Title,
		Content: map[string]any{"subtitle": Subtitle(ins)},
	}}
	if ins.Question != "" {
		slides[0].Content["question"] = ins.Question
	}

	for _, s := range ins.Sections {
		title := s.Name
		if title == models.BodySection {
			title = "Summary"
		}
		slides = append(slides, Slide{Type: SlideSection, Title: title, Content: map[string]any{}})
		if len(s.Items) == 0 {
			continue
		}
		bullets := make([]string, len(s.Items))
		copy(bullets, s.Items)
		slides = append(slides, Slide{Type: SlideBullets, Title: title, Content: map[string]any{"bullets": bullets}})
	}
	return slides
}
