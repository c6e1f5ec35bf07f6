// Command qsync is the client for a qsync record server.
package main

import (
	"os"

	"github.com/kilupskalvis/qsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
