package deck

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/artifact"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"gopkg.in/yaml.v3"
)

const keepDecks = 48

// frontMatter is the Marp header of a markdown deck.
type frontMatter struct {
	Marp     bool   `yaml:"marp"`
	Theme    string `yaml:"theme"`
	Paginate bool   `yaml:"paginate"`
	Title    string `yaml:"title"`
	Footer   string `yaml:"footer,omitempty"`
}

// RenderMarkdown renders ins as a self-contained Marp deck. The output depends
// only on ins.
func RenderMarkdown(ins *models.Insight) ([]byte, error) {
	fm, err := yaml.Marshal(frontMatter{
		Marp:     true,
		Theme:    "default",
		Paginate: true,
		Title:    ins.Title,
		Footer:   fmt.Sprintf("%s · %s", ins.Title, ins.GeneratedAt.UTC().Format("2006-01-02")),
	})
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var b bytes.Buffer
	b.WriteString("---\n")
	b.Write(fm)
	b.WriteString("---\n")

	for i, s := range BuildSlides(ins) {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString("\n")
		switch s.Type {
		case SlideTitle:
			fmt.Fprintf(&b, "<!-- _class: lead -->\n\n# %s\n\n%s\n", s.Title, s.Content["subtitle"])
			if q, ok := s.Content["question"].(string); ok {
				fmt.Fprintf(&b, "\n> %s\n", q)
			}
		case SlideSection:
			fmt.Fprintf(&b, "<!-- _class: lead -->\n\n## %s\n", s.Title)
		case SlideBullets:
			fmt.Fprintf(&b, "## %s\n\n", s.Title)
			for _, item := range s.Content["bullets"].([]string) {
				fmt.Fprintf(&b, "- %s\n", escapeLine(item))
			}
		}
	}
	return b.Bytes(), nil
}

// escapeLine keeps a bullet from being read as a slide break or heading.
func escapeLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if strings.HasPrefix(s, "---") || strings.HasPrefix(s, "#") {
		return `\` + s
	}
	return s
}

// MarkdownPath is where the static deck for ins is written.
func MarkdownPath(dir string, ins *models.Insight) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.md", ins.Kind, models.FileTimestamp(ins.GeneratedAt)))
}

// WriteMarkdown renders ins into dir and prunes old decks of the same kind.
func WriteMarkdown(dir string, ins *models.Insight) (string, error) {
	data, err := RenderMarkdown(ins)
	if err != nil {
		return "", err
	}
	path := MarkdownPath(dir, ins)
	if err := artifact.WriteFile(path, data); err != nil {
		return "", err
	}
	if _, err := artifact.Prune(dir, string(ins.Kind)+"_", ".md", keepDecks); err != nil {
		return path, fmt.Errorf("prune decks: %w", err)
	}
	return path, nil
}
