package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/insightdeck/internal/client"
	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/models"
)

const pollInterval = time.Second

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

type tickMsg time.Time

type runUpdateMsg struct {
	run *models.RunRecord
	err error
}

// progressModel is the bubbletea model for a pipeline run.
type progressModel struct {
	client   *client.Client
	runID    string
	run      *models.RunRecord
	progress progress.Model
	theme    Theme
	done     bool
	quitting bool
	err      error
}

func newProgressModel(c *client.Client, runID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		client:   c,
		runID:    runID,
		progress: prog,
		theme:    defaultTheme,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchRun(),
		m.progress.Init(),
	)
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchRun()

	case runUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch run status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.run = msg.run
		if m.run.Status.Terminal() {
			m.done = true
			if m.run.Status == models.RunFailed {
				m.err = runError(m.run)
			}
			return m, tea.Quit
		}
		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if m.run == nil {
		return "Loading run status...\n"
	}

	completed, current := stageProgress(m.run)
	pct := float64(completed) / float64(len(config.Stages))

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.run.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d stages", completed, len(config.Stages))
	if current != "" {
		counts += " · " + current
	}
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'insightdeck runs %s' to check status.\n",
			m.runID, m.runID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.run == nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}
	return renderRunSummary(m.theme, m.run)
}

// renderRunSummary formats a finished run with per-stage counts.
func renderRunSummary(t Theme, run *models.RunRecord) string {
	var b strings.Builder
	switch run.Status {
	case models.RunSuccess:
		b.WriteString(t.completedStyle().Render("✓ Completed"))
	case models.RunPartial:
		b.WriteString(t.warningStyle().Render("✓ Completed with warnings"))
	default:
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("✗ Failed in %s: %s", run.FailedStage, run.Error)))
	}
	b.WriteString(fmt.Sprintf(" (run %s)\n\n", run.ID))

	for _, s := range run.Stages {
		state := "done"
		switch {
		case s.Skipped:
			state = "skipped"
		case !s.Completed:
			state = "failed"
		}
		fmt.Fprintf(&b, "  %-10s %-8s %5d", s.Stage, state, s.Count)
		if s.Artifact != "" {
			fmt.Fprintf(&b, "  %s", s.Artifact)
		}
		b.WriteString("\n")
	}

	if warnings := run.Warnings(); len(warnings) > 0 {
		b.WriteString(t.warningStyle().Render(fmt.Sprintf("\nWarnings (%d):", len(warnings))))
		b.WriteString("\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "  • %s\n", w)
		}
	}
	return b.String()
}

// stageProgress returns the number of finished stages and the one in flight.
func stageProgress(run *models.RunRecord) (int, string) {
	completed := 0
	current := ""
	for _, s := range run.Stages {
		if s.Completed || s.Skipped {
			completed++
			continue
		}
		current = s.Stage
	}
	return completed, current
}

func runError(run *models.RunRecord) error {
	if run.Error == "" {
		return fmt.Errorf("run %s failed", run.ID)
	}
	return fmt.Errorf("run %s failed in %s: %s", run.ID, run.FailedStage, run.Error)
}

// fetchRun polls the server off the update loop.
func (m progressModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		run, err := m.client.Run(ctx, m.runID)
		return runUpdateMsg{run: run, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunProgress shows an interactive progress bar until the run finishes.
// Returns nil on success or Ctrl+C (background), an error if the run failed.
func RunProgress(c *client.Client, runID string) error {
	p := tea.NewProgram(newProgressModel(c, runID))

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}
	return nil
}

// waitForRun polls without a UI, printing each stage as it completes.
func waitForRun(ctx context.Context, c *client.Client, runID string) (*models.RunRecord, error) {
	printed := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		run, err := c.Run(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("fetch run: %w", err)
		}
		for ; printed < len(run.Stages); printed++ {
			s := run.Stages[printed]
			if !s.Completed && !s.Skipped && !run.Status.Terminal() {
				break
			}
			fmt.Printf("  %s: %d\n", s.Stage, s.Count)
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
