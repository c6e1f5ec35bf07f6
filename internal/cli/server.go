package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/qsync/internal/remote"
)

var (
	serverAdminURL        string
	serverAdminToken      string
	serverTokenDesc       string
	serverTokenSheets     []string
	serverTokenPermission string
	serverPurgeOlderThan  time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Administer a qsync record server",
	Long: `Commands for administering a running qsync-server through its admin API.
The server itself is started with the qsync-server binary.`,
}

func init() {
	serverCmd.AddCommand(serverTokensCmd)
	serverCmd.AddCommand(serverSheetsCmd)
	serverCmd.AddCommand(serverPurgeCmd)

	pf := serverCmd.PersistentFlags()
	pf.StringVar(&serverAdminURL, "url", os.Getenv("QSYNC_SERVER_URL"), "Server base URL (env: QSYNC_SERVER_URL)")
	pf.StringVar(&serverAdminToken, "admin-token", os.Getenv("QSYNC_ADMIN_TOKEN"), "Admin token (env: QSYNC_ADMIN_TOKEN)")

	serverTokensCmd.AddCommand(serverTokensCreateCmd, serverTokensListCmd, serverTokensDeleteCmd)
	serverSheetsCmd.AddCommand(serverSheetsCreateCmd, serverSheetsListCmd, serverSheetsDeleteCmd)

	tf := serverTokensCreateCmd.Flags()
	tf.StringVar(&serverTokenDesc, "desc", "", "Token description")
	tf.StringArrayVar(&serverTokenSheets, "sheet", nil, "Sheets to grant access to, repeat for multiple (default: *)")
	tf.StringVar(&serverTokenPermission, "permission", "rw", "Permission level: ro, rw or approve")

	serverPurgeCmd.Flags().DurationVar(&serverPurgeOlderThan, "older-than", 30*24*time.Hour, "Only purge deletions approved at least this long ago")
}

// --- qsync server tokens ---

var serverTokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage server tokens",
}

var serverTokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new access token",
	Run:   runServerTokensCreate,
}

var serverTokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access tokens",
	Run:   runServerTokensList,
}

var serverTokensDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an access token",
	Args:  cobra.ExactArgs(1),
	Run:   runServerTokensDelete,
}

// --- qsync server sheets ---

var serverSheetsCmd = &cobra.Command{
	Use:   "sheets",
	Short: "Manage sheets",
}

var serverSheetsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a sheet",
	Args:  cobra.ExactArgs(1),
	Run:   runServerSheetsCreate,
}

var serverSheetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sheets",
	Run:   runServerSheetsList,
}

var serverSheetsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a sheet and all its records",
	Args:  cobra.ExactArgs(1),
	Run:   runServerSheetsDelete,
}

var serverPurgeCmd = &cobra.Command{
	Use:   "purge <sheet>",
	Short: "Remove records whose deletion was approved",
	Long: `Remove records whose deletion was approved before the cutoff.

Examples:
  qsync server purge sales
  qsync server purge sales --older-than 0s`,
	Args: cobra.ExactArgs(1),
	Run:  runServerPurge,
}

// resolveAdminClient builds an AdminClient from the admin flags.
func resolveAdminClient() *remote.AdminClient {
	if serverAdminURL == "" {
		exitError("--url or QSYNC_SERVER_URL is required")
	}
	if serverAdminToken == "" {
		exitError("--admin-token or QSYNC_ADMIN_TOKEN is required")
	}
	return remote.NewAdminClient(serverAdminURL, serverAdminToken)
}

func runServerTokensCreate(_ *cobra.Command, _ []string) {
	c := resolveAdminClient()

	sheets := serverTokenSheets
	if len(sheets) == 0 {
		sheets = []string{"*"}
	}

	resp, err := c.CreateToken(context.Background(), serverTokenDesc, sheets, serverTokenPermission)
	if err != nil {
		exitError("%v", err)
	}

	fmt.Println("Token created.")
	fmt.Printf("  ID:          %s\n", resp.ID)
	fmt.Printf("  Description: %s\n", resp.Description)
	fmt.Printf("  Sheets:      %s\n", strings.Join(resp.Sheets, ", "))
	fmt.Printf("  Permission:  %s\n", resp.Permission)
	fmt.Println()
	color.New(color.FgGreen).Printf("Token: %s\n", resp.Token)
	color.New(color.FgYellow).Println("Save this token, it will not be shown again.")
}

func runServerTokensList(_ *cobra.Command, _ []string) {
	tokens, err := resolveAdminClient().ListTokens(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	if len(tokens) == 0 {
		fmt.Println("No tokens")
		return
	}

	fmt.Printf("  %-14s  %-20s  %-20s  %s\n", "ID", "Description", "Sheets", "Permission")
	for _, t := range tokens {
		fmt.Printf("  %-14s  %-20s  %-20s  %s\n", t.ID, truncate(t.Description, 20), strings.Join(t.Sheets, ","), t.Permission)
	}
}

func runServerTokensDelete(_ *cobra.Command, args []string) {
	if err := resolveAdminClient().DeleteToken(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted token '%s'\n", args[0])
}

func runServerSheetsCreate(_ *cobra.Command, args []string) {
	if err := resolveAdminClient().CreateSheet(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	color.New(color.FgGreen).Printf("Created sheet '%s'\n", args[0])
}

func runServerSheetsList(_ *cobra.Command, _ []string) {
	sheets, err := resolveAdminClient().ListSheets(context.Background())
	if err != nil {
		exitError("%v", err)
	}
	for _, s := range sheets {
		fmt.Printf("  %s\n", s)
	}
}

func runServerSheetsDelete(_ *cobra.Command, args []string) {
	if err := resolveAdminClient().DeleteSheet(context.Background(), args[0]); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Deleted sheet '%s'\n", args[0])
}

func runServerPurge(_ *cobra.Command, args []string) {
	cutoff := time.Now().Add(-serverPurgeOlderThan)
	res, err := resolveAdminClient().Purge(context.Background(), args[0], cutoff)
	if err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Purged %d records from '%s'\n", res.Purged, args[0])
}
