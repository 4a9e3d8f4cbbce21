package insight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/models"
)

// Kind describes how one insight kind is retrieved, summarized and asked for.
type Kind struct {
	Kind  models.InsightKind
	Title string
	// Retrieval is the semantic query used to pick context documents.
	Retrieval string
	// Subject names the data in the prompt ("Jira sprint data").
	Subject  string
	Sections []SectionSpec
	// Summarize renders the distribution block from every issue in the index.
	Summarize func(issues []models.Document) string
}

// SectionSpec is one section the model is asked to produce.
type SectionSpec struct {
	Name        string
	Description string
}

var kinds = map[models.InsightKind]Kind{
	models.InsightGeneral: {
		Kind:      models.InsightGeneral,
		Title:     "Project Insights",
		Retrieval: "project status overview progress blockers risks",
		Subject:   "Jira data",
		Sections: []SectionSpec{
			{"Executive Summary", "A brief overview of the project status based on the Jira data."},
			{"Key Metrics", "Important metrics derived from the data."},
			{"Issue Distribution Analysis", "Analysis of how issues are distributed across types, statuses, and priorities."},
			{"Bottlenecks and Blockers", "Identification of any bottlenecks or blockers in the project."},
			{"Recommendations", "Actionable recommendations based on the analysis."},
		},
		Summarize: func(issues []models.Document) string {
			return fmt.Sprintf("Data Summary:\n- Total Issues: %d\n- Issue Types: %s\n- Statuses: %s\n- Priorities: %s\n",
				len(issues),
				countLine(issues, func(d models.Document) string { return d.IssueType }, "Unknown"),
				countLine(issues, func(d models.Document) string { return d.Status }, "Unknown"),
				countLine(issues, func(d models.Document) string { return d.Priority }, "Unknown"))
		},
	},
	models.InsightSprint: {
		Kind:      models.InsightSprint,
		Title:     "Sprint Insights",
		Retrieval: "sprint progress velocity scope change completion",
		Subject:   "Jira sprint data",
		Sections: []SectionSpec{
			{"Sprint Performance", "Analysis of sprint velocity, completion rate, and scope changes."},
			{"Sprint Comparison", "Comparison of current sprint with previous sprints (if data available)."},
			{"Sprint Health", "Assessment of sprint health based on issue distribution and progress."},
			{"Risk Assessment", "Identification of risks that might affect sprint completion."},
			{"Recommendations", "Actionable recommendations for improving sprint performance."},
		},
		Summarize: func(issues []models.Document) string {
			return groupSummary("Sprint Summary", issues, func(d models.Document) string { return d.Sprint }, "No Sprint")
		},
	},
	models.InsightTeam: {
		Kind:      models.InsightTeam,
		Title:     "Team Insights",
		Retrieval: "assignee workload team collaboration ownership",
		Subject:   "Jira team data",
		Sections: []SectionSpec{
			{"Team Workload", "Analysis of workload distribution across team members."},
			{"Team Performance", "Assessment of team performance based on issue completion and velocity."},
			{"Skill Distribution", "Identification of skill distribution based on issue types assigned."},
			{"Collaboration Patterns", "Analysis of collaboration patterns based on issue assignments and comments."},
			{"Recommendations", "Actionable recommendations for improving team performance and collaboration."},
		},
		Summarize: func(issues []models.Document) string {
			return groupSummary("Team Summary", issues, func(d models.Document) string { return d.Assignee }, "Unassigned")
		},
	},
	models.InsightPriority: {
		Kind:      models.InsightPriority,
		Title:     "Priority Insights",
		Retrieval: "high priority critical urgent blocker",
		Subject:   "Jira priority data",
		Sections: []SectionSpec{
			{"Priority Distribution", "Analysis of how issues are distributed across priority levels."},
			{"High Priority Issues", "Detailed analysis of high priority issues, their status, and progress."},
			{"Priority Alignment", "Assessment of whether priority assignments align with business objectives."},
			{"Priority Trends", "Identification of trends in priority assignments over time."},
			{"Recommendations", "Actionable recommendations for better priority management."},
		},
		Summarize: func(issues []models.Document) string {
			return groupSummary("Priority Summary", issues, func(d models.Document) string { return d.Priority }, "No Priority")
		},
	},
	models.InsightQuery: {
		Kind:    models.InsightQuery,
		Title:   "Question",
		Subject: "Jira data",
		Sections: []SectionSpec{
			{"Answer", "A direct answer to the question, grounded in the issues shown."},
			{"Evidence", "The issues and facts that support the answer."},
			{"Recommendations", "Follow-up actions, if any."},
		},
		Summarize: func(issues []models.Document) string {
			return fmt.Sprintf("Data Summary:\n- Total Issues: %d\n", len(issues))
		},
	},
}

// Lookup returns the definition of k.
func Lookup(k models.InsightKind) (Kind, bool) {
	def, ok := kinds[k]
	return def, ok
}

// ParseKinds turns a comma-separated list into kinds, rejecting unknown names.
// An empty list yields the default kinds.
func ParseKinds(s string) ([]models.InsightKind, error) {
	if strings.TrimSpace(s) == "" {
		return models.DefaultInsightKinds, nil
	}
	var out []models.InsightKind
	for _, part := range strings.Split(s, ",") {
		k := models.InsightKind(strings.ToLower(strings.TrimSpace(part)))
		if _, ok := kinds[k]; !ok {
			return nil, fmt.Errorf("unknown insight kind %q", part)
		}
		out = append(out, k)
	}
	return out, nil
}

func groupSummary(title string, issues []models.Document, key func(models.Document) string, missing string) string {
	var b strings.Builder
	b.WriteString(title + ":\n")
	for _, c := range counts(issues, key, missing) {
		fmt.Fprintf(&b, "- %s: %d issues\n", c.name, c.n)
	}
	return b.String()
}

func countLine(issues []models.Document, key func(models.Document) string, missing string) string {
	cs := counts(issues, key, missing)
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = fmt.Sprintf("%s: %d", c.name, c.n)
	}
	return strings.Join(parts, ", ")
}

type count struct {
	name string
	n    int
}

// counts groups issues by key, largest group first, ties by name.
func counts(issues []models.Document, key func(models.Document) string, missing string) []count {
	m := make(map[string]int)
	for _, d := range issues {
		k := key(d)
		if k == "" {
			k = missing
		}
		m[k]++
	}
	out := make([]count, 0, len(m))
	for name, n := range m {
		out = append(out, count{name, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].name < out[j].name
	})
	return out
}
