package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/models"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queries grouped by bucket",
	Long: `List queries grouped by workflow bucket.

Examples:
  qsync list
  qsync list --bucket C --bucket D
  qsync list --mine`,
	Run: runList,
}

var (
	listBuckets  []string
	listAssignee string
	listMine     bool
	listDeleted  bool
)

func init() {
	f := listCmd.Flags()
	f.StringArrayVarP(&listBuckets, "bucket", "b", nil, "Only show this bucket (repeatable)")
	f.StringVar(&listAssignee, "assignee", "", "Only show queries assigned to this user")
	f.BoolVar(&listMine, "mine", false, "Only show queries assigned to you")
	f.BoolVar(&listDeleted, "deleted", false, "Include approved deletions")
}

func buildFilter(actor string) listFilter {
	filter := listFilter{Assignee: listAssignee, Deleted: listDeleted}
	if listMine {
		filter.Assignee = actor
	}
	for _, s := range listBuckets {
		b, err := models.ParseBucket(s)
		if err != nil {
			exitError("%v", err)
		}
		filter.Buckets = append(filter.Buckets, b)
	}
	return filter
}

func runList(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	printBoard(c.Store.Snapshot(), buildFilter(c.Config.Actor))
}

func printBoard(snap models.Snapshot, filter listFilter) {
	groups := groupByBucket(snap.Records, filter)
	shown := 0
	for _, b := range models.Buckets {
		list := groups[b]
		if len(list) == 0 {
			continue
		}
		bucketColor(b).Printf("%s %s (%d)\n", b, b.Label(), len(list))
		for _, q := range list {
			fmt.Println(formatRow(q))
		}
		fmt.Println()
		shown += len(list)
	}
	if shown == 0 {
		fmt.Println("No queries")
	}
}
