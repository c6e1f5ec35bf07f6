package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print a shell completion script for qsync",
	Long: `Print a completion script for qsync to stdout. Shells: bash, zsh, fish, powershell.

Completions cover every command and flag, including the admin commands under
'qsync server'.`,
	Example: `  # current bash session
  source <(qsync completion bash)

  # install for zsh (directory must be on $fpath)
  qsync completion zsh > "${fpath[1]}/_qsync"

  # install for fish
  qsync completion fish > ~/.config/fish/completions/qsync.fish

  # current PowerShell session
  qsync completion powershell | Out-String | Invoke-Expression`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, out := cmd.Root(), cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(out, true)
		case "zsh":
			return root.GenZshCompletion(out)
		case "fish":
			return root.GenFishCompletion(out, true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(out)
		}
		return fmt.Errorf("unsupported shell %q", args[0])
	},
}
