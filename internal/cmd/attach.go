package cmd

import (
	"os"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/spf13/cobra"
)

var attachCmd = &cobra.Command{
	Use:   "attach <session> [window]",
	Short: "Attach the terminal to a worker session",
	Long: `Attach the current terminal to a worker's tmux session. The window is
"main" (0, the default) or "shell" (1). Detach with the tmux prefix key
followed by d; the worker keeps running.`,
	Args: usageArgs(cobra.RangeArgs(1, 2)),
	RunE: runAttach,
}

func init() {
	rootCmd.AddCommand(attachCmd)
}

func runAttach(cmd *cobra.Command, args []string) error {
	if !isTerminal(os.Stdin) {
		return errors.NewValidationError("attach requires an interactive terminal")
	}

	a, err := newApp("attach")
	if err != nil {
		return err
	}
	defer a.Close()

	window := ""
	if len(args) > 1 {
		window = args[1]
	}
	live, err := a.orch.Attach(cmd.Context(), args[0], window)
	if live.Warning != "" {
		printWarning(cmd.ErrOrStderr(), "%s: %s", live.Name, live.Warning)
	}
	return err
}
