package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show all fields of a query",
	Args:  cobra.ExactArgs(1),
	Run:   runShow,
}

func runShow(cmd *cobra.Command, args []string) {
	c := initLoadedContext(context.Background())
	defer c.Close()

	q, ok := c.Store.Snapshot().Find(args[0])
	if !ok {
		exitError("query '%s' not found", args[0])
	}
	printDetail(q)
}
