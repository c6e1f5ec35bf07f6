package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/models"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the sheet in sync and print changes as they arrive",
	Long: `Run the background refresher and print every change to the sheet
until interrupted. Failed operations are reported; with --auto-retry each
failure is retried once against the latest state.`,
	Run: runWatch,
}

var watchAutoRetry bool

func init() {
	watchCmd.Flags().BoolVar(&watchAutoRetry, "auto-retry", false, "Retry failed operations once")
	f := watchCmd.Flags()
	f.StringArrayVarP(&listBuckets, "bucket", "b", nil, "Only report this bucket (repeatable)")
	f.BoolVar(&listMine, "mine", false, "Only report queries assigned to you")
}

func runWatch(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter := buildFilter(c.Config.Actor)
	snaps, unsubscribe := c.Store.Subscribe()
	defer unsubscribe()

	c.Store.Start(ctx)
	fmt.Printf("Watching sheet '%s' every %s (Ctrl-C to stop)\n", c.Config.Sheet, c.Engine.Interval())

	gray := color.New(color.FgHiBlack)
	red := color.New(color.FgRed)

	var prev *models.Snapshot
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if prev == nil {
				printBoard(snap, filter)
			} else {
				for _, line := range diffSnapshots(*prev, snap, filter) {
					gray.Printf("%s ", time.Now().Format("15:04:05"))
					fmt.Println(line)
				}
			}
			prev = &snap
		case n, ok := <-c.Store.Notifications():
			if !ok {
				return
			}
			red.Printf("%s failed on %s: %s\n", n.Op, n.RecordID, describeError(n.Err))
			if watchAutoRetry {
				if err := c.Store.Retry(ctx, n.Token); err != nil {
					red.Printf("retry of %s on %s failed: %s\n", n.Op, n.RecordID, describeError(err))
				}
			}
		}
	}
}

// diffSnapshots describes the records that appeared, changed bucket,
// changed content or disappeared between prev and next.
func diffSnapshots(prev, next models.Snapshot, filter listFilter) []string {
	before := make(map[string]models.Query, len(prev.Records))
	for _, q := range prev.Records {
		before[q.ID] = q
	}

	// temp records are reported once they carry their real id

	var lines []string
	seen := make(map[string]bool, len(next.Records))
	for _, q := range next.Records {
		seen[q.ID] = true
		if q.IsTemp() {
			continue
		}
		old, existed := before[q.ID]
		if !filter.match(q) && !(existed && filter.match(old)) {
			continue
		}
		switch {
		case !existed:
			lines = append(lines, fmt.Sprintf("+ %s %s", q.Bucket, formatRow(q)))
		case old.Bucket != q.Bucket:
			lines = append(lines, fmt.Sprintf("~ %s -> %s %s", old.Bucket, q.Bucket, formatRow(q)))
		case old.LastActivityAt != q.LastActivityAt || old.LastEditedAt != q.LastEditedAt:
			lines = append(lines, fmt.Sprintf("~ %s %s", q.Bucket, formatRow(q)))
		}
	}
	for _, q := range prev.Records {
		if !seen[q.ID] && !q.IsTemp() && filter.match(q) {
			lines = append(lines, fmt.Sprintf("- %s %s", q.Bucket, formatRow(q)))
		}
	}
	return lines
}
