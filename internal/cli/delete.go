package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/models"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Request deletion of a query",
	Long: `Request deletion of a query. The query moves to bucket H until a
privileged user approves or rejects the request. Privileged users delete
immediately.`,
	Args: cobra.ExactArgs(1),
	Run:  runDelete,
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending deletion",
	Args:  cobra.ExactArgs(1),
	Run:   runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending deletion and restore the query",
	Args:  cobra.ExactArgs(1),
	Run:   runReject,
}

func runDelete(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.RequestDelete(context.Background(), args[0]); err != nil {
		exitOperation(err)
	}
	q, _ := c.Store.Snapshot().Find(args[0])
	if q.DeleteState() == models.DeleteApproved {
		color.New(color.FgRed).Printf("Deleted %s\n", args[0])
		return
	}
	fmt.Printf("Deletion of %s requested\n", args[0])
}

func runApprove(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.ApproveDelete(context.Background(), args[0]); err != nil {
		exitOperation(err)
	}
	color.New(color.FgRed).Printf("Deleted %s\n", args[0])
}

func runReject(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.RejectDelete(context.Background(), args[0]); err != nil {
		exitOperation(err)
	}
	q, _ := c.Store.Snapshot().Find(args[0])
	fmt.Printf("Restored %s to %s %s\n", args[0], q.Bucket, q.Bucket.Label())
}
