package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/engine"
	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
	"github.com/kilupskalvis/qsync/internal/store"
)

var addCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a new query",
	Long: `Add a new query. It lands in bucket A, or in B when --assign is given.

Examples:
  qsync add "Quote for 40 units" --type sales
  qsync add "Printer offline" --type support --assign bob`,
	Args: cobra.ExactArgs(1),
	Run:  runAdd,
}

var moveCmd = &cobra.Command{
	Use:   "move <id> <bucket>",
	Short: "Move a query to another bucket",
	Long: `Move a query to another bucket, optionally setting fields of the
target stage in the same step.

Examples:
  qsync move Q-12 C
  qsync move Q-12 E --set order_ref=SO-5521
  qsync move Q-12 D --set pending_note="waiting on budget"`,
	Args: cobra.ExactArgs(2),
	Run:  runMove,
}

var editCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit fields of a query",
	Long: `Edit fields of a query. Only fields owned by the current bucket
or earlier ones can be changed.

Examples:
  qsync edit Q-12 --set description="Quote for 50 units"
  qsync edit Q-12 --set remarks="called twice"`,
	Args: cobra.ExactArgs(1),
	Run:  runEdit,
}

var assignCmd = &cobra.Command{
	Use:   "assign <id> <user>",
	Short: "Assign a query to a user",
	Args:  cobra.ExactArgs(2),
	Run:   runAssign,
}

var (
	addType     string
	addAssignee string
	moveSet     []string
	editSet     []string
)

func init() {
	addCmd.Flags().StringVarP(&addType, "type", "t", "", "Query type: sales|service|support|general")
	addCmd.Flags().StringVar(&addAssignee, "assign", "", "Assign to this user")
	moveCmd.Flags().StringArrayVar(&moveSet, "set", nil, "Set field=value in the same step (repeatable)")
	editCmd.Flags().StringArrayVar(&editSet, "set", nil, "Set field=value (repeatable)")
	editCmd.MarkFlagRequired("set")
}

func runAdd(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	id, err := c.Store.Add(context.Background(), lifecycle.NewQueryInput{
		Description: args[0],
		Type:        models.QueryType(addType),
		AssignedTo:  addAssignee,
	})
	if err != nil {
		exitOperation(err)
	}
	color.New(color.FgGreen).Printf("Added %s\n", id)
}

func runMove(cmd *cobra.Command, args []string) {
	target, err := models.ParseBucket(args[1])
	if err != nil {
		exitError("%v", err)
	}
	patch, err := parseAssignments(moveSet)
	if err != nil {
		exitError("%v", err)
	}

	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.Transition(context.Background(), args[0], target, patch); err != nil {
		exitOperation(err)
	}
	fmt.Printf("Moved %s to %s %s\n", args[0], target, target.Label())
}

func runEdit(cmd *cobra.Command, args []string) {
	patch, err := parseAssignments(editSet)
	if err != nil {
		exitError("%v", err)
	}

	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.Edit(context.Background(), args[0], patch); err != nil {
		exitOperation(err)
	}
	fmt.Printf("Updated %s\n", args[0])
}

func runAssign(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	if err := c.Store.Assign(context.Background(), args[0], args[1]); err != nil {
		exitOperation(err)
	}
	fmt.Printf("Assigned %s to %s\n", args[0], args[1])
}

// describeError turns engine and lifecycle errors into a user-facing message.
func describeError(err error) string {
	var ve *lifecycle.ValidationError
	var oe *engine.OperationError
	switch {
	case errors.As(err, &ve):
		return fmt.Sprintf("not allowed: %s", ve.Reason)
	case errors.As(err, &oe):
		return fmt.Sprintf("server rejected %s on %s, change rolled back: %v", oe.Op, oe.RecordID, oe.Err)
	case errors.Is(err, engine.ErrUnknownRecord):
		return "no such query"
	case errors.Is(err, engine.ErrRecordUnconfirmed):
		return "query is still being created, try again"
	case errors.Is(err, store.ErrNotPermitted):
		return "only privileged users can approve or reject deletions"
	}
	return err.Error()
}

func exitOperation(err error) {
	exitError("%s", describeError(err))
}
