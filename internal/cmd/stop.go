package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <session>...",
	Short: "Stop worker sessions",
	Long: `Stop worker sessions: end the tmux session, stop and remove the
container, delete the control socket and the registry entry. Managed
worktrees are kept; cleanup removes them.`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	a, err := newApp("stop")
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, name := range args {
		s, err := a.orch.Stop(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Stopped %s (container %s)\n", okStyle.Render("✓"), s.Name, s.Container)
	}
	return nil
}
