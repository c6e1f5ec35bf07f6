package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status and bucket counts",
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	st := c.Store.Status()
	snap := c.Store.Snapshot()

	fmt.Printf("Sheet %s on %s\n", c.Config.Sheet, c.Config.ServerURL)
	role := "member"
	if c.Config.Privileged {
		role = "approver"
	}
	fmt.Printf("Acting as %s (%s)\n", c.Config.Actor, role)
	fmt.Printf("Last synced %s\n", humanizeSince(st.LastSyncedAt, time.Now()))
	if st.Pending > 0 {
		color.New(color.FgYellow).Printf("%d changes pending\n", st.Pending)
	}
	fmt.Println()

	counts := countByBucket(snap.Records)
	for _, b := range models.Buckets {
		bucketColor(b).Printf("  %s %-18s %d\n", b, b.Label(), counts[b])
	}

	mine := 0
	for _, q := range snap.Records {
		if q.AssignedTo == c.Config.Actor && q.DeleteState() == models.DeleteActive {
			mine++
		}
	}
	fmt.Printf("\n%d assigned to you\n", mine)
}

// countByBucket counts live records per bucket; approved deletions are not counted.
func countByBucket(records []models.Query) map[models.Bucket]int {
	counts := make(map[models.Bucket]int, len(models.Buckets))
	for _, q := range records {
		if q.DeleteState() == models.DeleteApproved {
			continue
		}
		counts[q.Bucket]++
	}
	return counts
}
