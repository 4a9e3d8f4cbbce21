package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/insightdeck/internal/index"
	"github.com/raphaelgruber/insightdeck/internal/models"
	"github.com/spf13/cobra"
)

var (
	queryCollection string
	queryTypes      []string
	queryStatuses   []string
	queryPriorities []string
	queryAssignees  []string
	querySprints    []string
	queryLimit      int
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Semantic search over the indexed project",
	Long: `Search indexed issues, sprints or epics by meaning. Filters match
field values exactly.

Examples:
  insightdeck query "login failures"
  insightdeck query "payment" --status "In Progress" --priority High
  insightdeck query "q3 goals" --collection epic -n 5`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryCollection, "collection", "c", models.CollectionIssue, "issue, sprint or epic")
	queryCmd.Flags().StringSliceVarP(&queryTypes, "type", "t", nil, "filter by issue types")
	queryCmd.Flags().StringSliceVarP(&queryStatuses, "status", "s", nil, "filter by statuses")
	queryCmd.Flags().StringSliceVar(&queryPriorities, "priority", nil, "filter by priorities")
	queryCmd.Flags().StringSliceVarP(&queryAssignees, "assignee", "a", nil, "filter by assignees")
	queryCmd.Flags().StringSliceVar(&querySprints, "sprint", nil, "filter by sprints")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", index.DefaultLimit, "max results")
}

func runQuery(cmd *cobra.Command, args []string) error {
	docs, err := apiClient.Query(context.Background(), index.Query{
		Text:       args[0],
		Collection: queryCollection,
		Filters: models.Filters{
			IssueTypes: queryTypes,
			Statuses:   queryStatuses,
			Priorities: queryPriorities,
			Assignees:  queryAssignees,
			Sprints:    querySprints,
		},
		Limit: queryLimit,
	})
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}

	if len(docs) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(docs))
	for i, d := range docs {
		fmt.Printf("%d. %s %s\n", i+1, d.Key, d.Title)
		var meta []string
		for _, v := range []string{d.IssueType, d.Status, d.Priority, d.Assignee, d.Sprint} {
			if v != "" {
				meta = append(meta, v)
			}
		}
		if len(meta) > 0 {
			fmt.Printf("   [%s]\n", strings.Join(meta, " | "))
		}
		if verbose {
			fmt.Printf("   score %.3f\n", d.Score)
			if len(d.Text) > 200 {
				fmt.Printf("   %s...\n", d.Text[:200])
			} else if d.Text != "" {
				fmt.Printf("   %s\n", d.Text)
			}
		}
	}
	return nil
}
