package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <session> <command...>",
	Short: "Type a command into a worker session",
	Long: `Type a command into a worker's window followed by Enter. The command is
sent literally, so tmux key names in it are not interpreted.

With --capture the window content is printed after --wait has elapsed.`,
	Args: usageArgs(cobra.MinimumNArgs(2)),
	RunE: runSend,
}

var (
	sendWindow  string
	sendCapture bool
	sendWait    time.Duration
	sendHistory int
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVarP(&sendWindow, "window", "w", "main", "Target window (main or shell)")
	sendCmd.Flags().BoolVar(&sendCapture, "capture", false, "Print the window content after sending")
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "How long to wait before capturing")
	sendCmd.Flags().IntVar(&sendHistory, "history", 0, "Scrollback lines to include in the capture")
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := newApp("send")
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.Send(cmd.Context(), orchestrator.SendRequest{
		Name:    args[0],
		Window:  sendWindow,
		Command: strings.Join(args[1:], " "),
		Capture: sendCapture,
		Wait:    sendWait,
		History: sendHistory,
	})
	if res != nil && res.Warning != "" {
		printWarning(cmd.ErrOrStderr(), "%s: %s", res.Session, res.Warning)
	}
	if err != nil {
		return err
	}
	if sendCapture {
		fmt.Fprint(cmd.OutOrStdout(), res.Output)
		if res.Output != "" && !strings.HasSuffix(res.Output, "\n") {
			fmt.Fprintln(cmd.OutOrStdout())
		}
	}
	return nil
}
