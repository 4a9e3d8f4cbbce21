package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect pipeline runs",
	Long: `List recent pipeline runs or inspect a specific run by ID.

Examples:
  insightdeck runs           # List recent runs
  insightdeck runs abc123    # Show details for run abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if len(args) == 1 {
		return showRun(ctx, args[0])
	}
	return listRuns(ctx)
}

func listRuns(ctx context.Context) error {
	runs, err := apiClient.Runs(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-10s %-10s %-9s %-10s %-20s %s\n", "ID", "PROJECT", "TRIGGER", "STATUS", "STARTED", "DURATION")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, run := range runs {
		fmt.Printf("%-10s %-10s %-9s %-10s %-20s %s\n", run.ID, run.ProjectKey, run.Trigger, run.Status,
			run.StartedAt.Local().Format(time.DateTime), duration(run))
	}
	return nil
}

func showRun(ctx context.Context, id string) error {
	run, err := apiClient.Run(ctx, id)
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	fmt.Printf("Run: %s\n", run.ID)
	fmt.Printf("  Project: %s\n", run.ProjectKey)
	fmt.Printf("  Trigger: %s\n", run.Trigger)
	fmt.Printf("  Status: %s\n", run.Status)
	fmt.Printf("  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Printf("  Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", duration(*run))
	}
	fmt.Println()
	fmt.Print(renderRunSummary(defaultTheme, run))
	return nil
}

func duration(run models.RunRecord) string {
	if run.FinishedAt == nil {
		return "-"
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
}
