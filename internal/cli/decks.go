package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	decksLimit  int
	decksOutDir string
)

var decksCmd = &cobra.Command{
	Use:   "decks [file]",
	Short: "List or download published decks",
	Long: `List published presentations, or download a markdown deck by file name.

Examples:
  insightdeck decks
  insightdeck decks general_20260301_090000.md -o ./slides`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecks,
}

func init() {
	decksCmd.Flags().IntVarP(&decksLimit, "limit", "n", 20, "max decks to list")
	decksCmd.Flags().StringVarP(&decksOutDir, "output", "o", ".", "download directory")
}

func runDecks(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if len(args) == 1 {
		return downloadDeck(ctx, args[0])
	}

	list, err := apiClient.Presentations(ctx)
	if err != nil {
		return fmt.Errorf("list presentations: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No presentations published yet")
		return nil
	}
	if decksLimit > 0 && len(list) > decksLimit {
		list = list[:decksLimit]
	}

	fmt.Printf("%-9s %-9s %-20s %s\n", "KIND", "FORMAT", "UPDATED", "LOCATION")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, p := range list {
		location := p.Path
		if p.URL != "" {
			location = p.URL
		}
		fmt.Printf("%-9s %-9s %-20s %s\n", p.Kind, p.Format, p.UpdatedAt.Local().Format(time.DateTime), location)
		if verbose && p.Title != "" {
			fmt.Printf("          %s (run %s)\n", p.Title, p.RunID)
		}
	}
	return nil
}

func downloadDeck(ctx context.Context, name string) error {
	if err := os.MkdirAll(decksOutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(decksOutDir, filepath.Base(name))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	if err := apiClient.DownloadPresentation(ctx, name, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("download: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	fmt.Printf("Saved %s\n", path)
	return nil
}
