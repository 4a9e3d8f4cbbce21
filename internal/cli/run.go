package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/insightdeck/internal/app"
	"github.com/raphaelgruber/insightdeck/internal/client"
	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/insight"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/raphaelgruber/insightdeck/internal/server"
	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	runLocal    bool
	runDetach   bool
	runProject  string
	runSkip     []string
	runKinds    string
	runQuestion string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline",
	Long: `Trigger a pipeline run: extract, process, index, insights, publish.

By default the run is started on the server and its progress is followed
until it finishes. A trigger while another run is in progress is rejected.

Examples:
  insightdeck run
  insightdeck run --detach
  insightdeck run --skip extract,process
  insightdeck run --kinds general,priority --question "what is blocking the release?"
  insightdeck run --local`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runLocal, "local", false, "run in this process instead of on the server")
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "return after the run is accepted")
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "project key (default: server configuration)")
	runCmd.Flags().StringSliceVar(&runSkip, "skip", nil, "stages to skip, reusing their latest artifacts")
	runCmd.Flags().StringVarP(&runKinds, "kinds", "k", "", "comma-separated insight kinds (default: all)")
	runCmd.Flags().StringVarP(&runQuestion, "question", "q", "", "extra free-form question for the insights stage")
}

func runRun(cmd *cobra.Command, args []string) error {
	var kinds []models.InsightKind
	if runKinds != "" {
		var err error
		if kinds, err = insight.ParseKinds(runKinds); err != nil {
			return err
		}
	}

	if runLocal {
		return runLocally(kinds)
	}

	ctx := context.Background()
	res, err := apiClient.Trigger(ctx, server.RunRequest{
		ProjectKey: runProject,
		Skip:       runSkip,
		Kinds:      kinds,
		Question:   runQuestion,
	})
	if errors.Is(err, client.ErrAlreadyRunning) {
		return fmt.Errorf("%s, try again after it finishes", res.Message)
	}
	if err != nil {
		return fmt.Errorf("trigger run: %w", err)
	}

	fmt.Printf("Run %s started\n", res.RunID)
	if runDetach {
		return nil
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return RunProgress(apiClient, res.RunID)
	}

	run, err := waitForRun(ctx, apiClient, res.RunID)
	if err != nil {
		return err
	}
	fmt.Print(renderRunSummary(defaultTheme, run))
	if run.Status == models.RunFailed {
		return runError(run)
	}
	return nil
}

// runLocally builds the full pipeline in-process and runs it to completion.
func runLocally(kinds []models.InsightKind) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.LogLevel
	if verbose {
		level = slog.LevelDebug
	}
	logger, closeLog := config.SetupLogger(cfg.LogFile, level)
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			warnf("shutdown: %v", err)
		}
	}()

	project := runProject
	if project == "" {
		project = cfg.ProjectKey
	}
	run, err := a.Pipeline.RunSync(ctx, service.Request{
		ProjectKey: project,
		Trigger:    "cli",
		Skip:       runSkip,
		Kinds:      kinds,
		Question:   runQuestion,
	})
	if errors.Is(err, service.ErrAlreadyRunning) {
		return errors.New("another run is in progress on this data directory")
	}
	if run != nil {
		fmt.Print(renderRunSummary(defaultTheme, run))
	}
	return err
}
