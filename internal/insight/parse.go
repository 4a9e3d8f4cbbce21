package insight

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/models"
)

// leadSection holds lines that appear before the first heading.
const leadSection = "Overview"

var (
	numbered = regexp.MustCompile(`^\d+[.)]\s+`)
	bullet   = regexp.MustCompile(`^([-*•]|\d+[.)])\s+`)
)

// Parse splits a completion into ordered sections. A line is a heading when it
// starts with '#', is wholly bold, or ends with ':' ("1. Key Metrics:" too).
// When no heading is found the whole text lands in a single body section.
func Parse(text string) []models.Section {
	var (
		sections []models.Section
		current  = -1
		headings int
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if name, ok := heading(line); ok {
			headings++
			sections = append(sections, models.Section{Name: name, Items: []string{}})
			current = len(sections) - 1
			continue
		}
		if current < 0 {
			sections = append(sections, models.Section{Name: leadSection, Items: []string{}})
			current = 0
		}
		sections[current].Items = append(sections[current].Items, item(line))
	}

	if headings == 0 {
		return []models.Section{bodySection(text)}
	}
	return sections
}

func bodySection(text string) models.Section {
	items := []string{}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return models.Section{Name: models.BodySection, Items: items}
}

func heading(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, "#"):
		return cleanHeading(strings.TrimLeft(line, "#")), true
	case len(line) > 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") &&
		!strings.Contains(line[2:len(line)-2], "**"):
		return cleanHeading(line), true
	}

	plain := strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
	if !strings.HasSuffix(plain, ":") || strings.HasPrefix(plain, "- ") || strings.HasPrefix(plain, "* ") {
		return "", false
	}
	// Long sentences ending in ':' introduce lists; they are not headings.
	if len(strings.Fields(plain)) > 8 {
		return "", false
	}
	return cleanHeading(plain), true
}

func cleanHeading(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.TrimSpace(s)
	s = numbered.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, ":")
	return strings.TrimSpace(s)
}

func item(line string) string {
	return strings.TrimSpace(bullet.ReplaceAllString(line, ""))
}
