package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List worker sessions",
	Long: `List registered worker sessions. Sessions whose container is no longer
running are reported as orphaned; stop or cleanup removes them.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runList,
}

var (
	listPrefix string
	listJSON   bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listPrefix, "prefix", "", "Only list sessions with this prefix")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print sessions as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp("list")
	if err != nil {
		return err
	}
	defer a.Close()

	views, err := a.orch.List(cmd.Context(), listPrefix)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if listJSON {
		if views == nil {
			views = []orchestrator.View{}
		}
		data, err := json.MarshalIndent(views, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(views) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	t := newTable("SESSION", "SLOT", "STATUS", "CONTAINER", "BRANCH", "DIRECTORY")
	for _, v := range views {
		status := statusStyle(v.Status).Render(string(v.Status))
		if !v.SocketPresent && v.Status.IsLive() {
			status += mutedStyle.Render(" (no socket)")
		}
		t.add(string(v.Name), strconv.Itoa(v.Slot), status, v.Container, v.Branch, v.Directory)
	}
	t.render(out)
	return nil
}
