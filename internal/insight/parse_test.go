package insight

import (
	"testing"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []models.Section
	}{
		{
			name: "markdown headings",
			text: "## Executive Summary\n- Project is on track\n- 3 blockers\n\n## Recommendations\n* Close stale bugs\n",
			want: []models.Section{
				{Name: "Executive Summary", Items: []string{"Project is on track", "3 blockers"}},
				{Name: "Recommendations", Items: []string{"Close stale bugs"}},
			},
		},
		{
			name: "numbered colon headings",
			text: "1. Key Metrics:\n- 40 issues\n2. **Bottlenecks and Blockers:**\n- Review queue",
			want: []models.Section{
				{Name: "Key Metrics", Items: []string{"40 issues"}},
				{Name: "Bottlenecks and Blockers", Items: []string{"Review queue"}},
			},
		},
		{
			name: "bold heading and lead text",
			text: "Here is the report.\n**Team Workload**\n1. alice carries 60% of open work",
			want: []models.Section{
				{Name: leadSection, Items: []string{"Here is the report."}},
				{Name: "Team Workload", Items: []string{"alice carries 60% of open work"}},
			},
		},
		{
			name: "heading with number inside markdown",
			text: "### 3. Sprint Health\n- green",
			want: []models.Section{{Name: "Sprint Health", Items: []string{"green"}}},
		},
		{
			name: "no headings falls back to body",
			text: "The project looks healthy overall.\nVelocity is stable and the backlog is shrinking, which suggests the following items are worth a look:\n- none",
			want: []models.Section{{Name: models.BodySection, Items: []string{
				"The project looks healthy overall.",
				"Velocity is stable and the backlog is shrinking, which suggests the following items are worth a look:",
				"- none",
			}}},
		},
		{
			name: "empty",
			text: "  \n",
			want: []models.Section{{Name: models.BodySection, Items: []string{}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestParseKeepsSectionOrder(t *testing.T) {
	sections := Parse("# Zeta\n- z\n# Alpha\n- a\n# Mid\n- m")
	require.Len(t, sections, 3)
	assert.Equal(t, []string{"Zeta", "Alpha", "Mid"}, []string{sections[0].Name, sections[1].Name, sections[2].Name})
}
