package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/service"
	"github.com/spf13/cobra"
)

var statusFollow bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline status",
	Long: `Show whether a run is in progress and which stages have completed.

Examples:
  insightdeck status
  insightdeck status --follow`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "stream status updates until the run finishes")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if !statusFollow {
		st, err := apiClient.Status(ctx)
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		printStatus(st)
		return nil
	}

	sawRun := false
	err := apiClient.WatchStatus(ctx, func(st service.Status) bool {
		fmt.Print("\033[H\033[2J")
		printStatus(&st)
		if st.State == "running" {
			sawRun = true
			return true
		}
		// Keep watching an idle server only until a followed run ends.
		return !sawRun
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printStatus(st *service.Status) {
	fmt.Printf("State: %s\n", st.State)
	if st.Current != nil {
		fmt.Printf("Run:   %s (%s, started %s)\n", st.Current.ID, st.Current.Trigger,
			st.Current.StartedAt.Local().Format(time.DateTime))
	}
	if st.LastRunAt != nil {
		fmt.Printf("Last:  %s at %s\n", st.LastStatus, st.LastRunAt.Local().Format(time.DateTime))
	}

	fmt.Println()
	for _, stage := range config.Stages {
		mark := "·"
		if st.Components[stage] {
			mark = "✓"
		}
		fmt.Printf("  %s %s\n", mark, stage)
	}
}
