package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/raphaelgruber/insightdeck/internal/config"
	"github.com/raphaelgruber/insightdeck/internal/metrics"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show in-memory server statistics: run outcomes, stage timings,
model token usage and indexed document counts.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	if len(stats.Documents) > 0 {
		fmt.Printf("Indexed documents\n")
		fmt.Printf("═══════════════════════════════════════\n")
		for _, c := range slices.Sorted(maps.Keys(stats.Documents)) {
			fmt.Printf("  %-10s %d\n", c, stats.Documents[c])
		}
		fmt.Println()
	}

	if stats.Metrics != nil {
		printServerStats(stats.Metrics)
	}
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(s *metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", s.UptimeSeconds)

	if len(s.Runs) > 0 {
		fmt.Printf("\nRuns:\n")
		for _, status := range slices.Sorted(maps.Keys(s.Runs)) {
			fmt.Printf("  %-8s %d\n", status, s.Runs[status])
		}
	}

	for _, stage := range config.Stages {
		if op := s.Stages[stage]; op != nil {
			fmt.Printf("\nStage %s:\n", stage)
			printOpStats(op)
		}
	}

	if s.Embedding != nil {
		fmt.Printf("\nEmbeddings:\n")
		printOpStats(s.Embedding)
	}

	if s.LLMGenerate != nil {
		fmt.Printf("\nLLM Generate:\n")
		printOpStats(s.LLMGenerate)
		printTokenStats(s.LLMGenerate)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	if op.MinInputTokens != nil && op.MaxInputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinInputTokens, *op.MaxInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	if op.MinOutputTokens != nil && op.MaxOutputTokens != nil {
		fmt.Printf(", min %d, max %d", *op.MinOutputTokens, *op.MaxOutputTokens)
	}
	fmt.Println()
}
