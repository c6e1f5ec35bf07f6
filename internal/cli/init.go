package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/config"
	"github.com/kilupskalvis/qsync/internal/remote"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a qsync project",
	Long: `Initialize a qsync project in the current directory.
This creates a .qsync directory holding the config and the local cache.

Examples:
  qsync init --url https://qsync.example.com --sheet sales --actor alice
  QSYNC_TOKEN=qsync_... qsync init --url http://localhost:8730 --sheet ops --actor bob --privileged`,
	Run: runInit,
}

var (
	initURL          string
	initSheet        string
	initToken        string
	initActor        string
	initPrivileged   bool
	initRefresh      string
	initCacheTTL     string
	initRejectPolicy string
	initSkipCheck    bool
)

func init() {
	f := initCmd.Flags()
	f.StringVar(&initURL, "url", "http://localhost:8730", "Record server URL")
	f.StringVar(&initSheet, "sheet", "", "Sheet to sync")
	f.StringVar(&initToken, "token", "", "Access token (prefer QSYNC_TOKEN)")
	f.StringVar(&initActor, "actor", os.Getenv(config.EnvActor), "Name recorded on your changes")
	f.BoolVar(&initPrivileged, "privileged", false, "Allow approving and rejecting deletions")
	f.StringVar(&initRefresh, "refresh-interval", "", "Background refresh interval (default 30s)")
	f.StringVar(&initCacheTTL, "cache-ttl", "", "How long the local cache stays usable (default 10m)")
	f.StringVar(&initRejectPolicy, "reject-policy", "", "Where rejected deletions go without a prior bucket: earliest|strict")
	f.BoolVar(&initSkipCheck, "no-check", false, "Do not contact the server")
}

func runInit(cmd *cobra.Command, args []string) {
	if _, err := config.FindRoot(); err == nil {
		exitError("qsync project already exists")
	}

	wd, err := os.Getwd()
	if err != nil {
		exitError("%v", err)
	}

	token := initToken
	if token == "" {
		token = os.Getenv(config.EnvToken)
	}

	if !initSkipCheck {
		fmt.Printf("Connecting to %s...\n", initURL)
		records, err := remote.NewHTTPClient(initURL, initSheet, token).ReadAll(context.Background())
		if err != nil {
			exitError("failed to read sheet '%s': %v", initSheet, err)
		}
		fmt.Printf("Sheet '%s' has %d records\n", initSheet, len(records))
	}

	cfg, err := config.Initialize(wd, config.Config{
		ServerURL:       initURL,
		Sheet:           initSheet,
		Token:           initToken,
		Actor:           initActor,
		Privileged:      initPrivileged,
		RefreshInterval: initRefresh,
		CacheTTL:        initCacheTTL,
		RejectPolicy:    initRejectPolicy,
	})
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}

	color.New(color.FgGreen).Printf("\nInitialized qsync project in %s/\n", config.QsyncDir)
	fmt.Printf("Syncing sheet '%s' at %s as %s\n", cfg.Sheet, cfg.ServerURL, cfg.Actor)
}
