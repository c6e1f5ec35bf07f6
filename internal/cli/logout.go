package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the local cache and forget the stored token",
	Run:   runLogout,
}

func runLogout(cmd *cobra.Command, args []string) {
	c := initContext()

	err := c.Store.Close()
	c.Cache.Close()
	if err != nil {
		exitError("failed to clear cache: %v", err)
	}

	// env overrides must not end up on disk
	cfg, err := config.ReadFile(c.Config.Path())
	if err == nil && cfg.Token != "" {
		cfg.Token = ""
		if err := cfg.Save(); err != nil {
			exitError("failed to update config: %v", err)
		}
	}
	fmt.Println("Logged out")
}
