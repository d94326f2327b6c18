package cmd

import (
	"fmt"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/remote"
	"github.com/spf13/cobra"
)

var broadcastCmd = &cobra.Command{
	Use:   "broadcast <command...>",
	Short: "Send a command to many worker sessions",
	Long: `Send a command to every running worker under a prefix, optionally
narrowed by a glob on the session name. Delivery runs in parallel; a failure
for one worker does not stop delivery to the others.

Exits with status 4 when some deliveries failed.`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runBroadcast,
}

var (
	broadcastPrefix   string
	broadcastMatch    string
	broadcastWindow   string
	broadcastParallel int
)

func init() {
	rootCmd.AddCommand(broadcastCmd)

	broadcastCmd.Flags().StringVar(&broadcastPrefix, "prefix", "", "Only target sessions with this prefix")
	broadcastCmd.Flags().StringVar(&broadcastMatch, "match", "", "Glob matched against session names (e.g. 'feature-*')")
	broadcastCmd.Flags().StringVarP(&broadcastWindow, "window", "w", "main", "Target window (main or shell)")
	broadcastCmd.Flags().IntVar(&broadcastParallel, "parallel", 0, "Concurrent deliveries (default: broadcast.parallelism)")
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	a, err := newApp("broadcast")
	if err != nil {
		return err
	}
	defer a.Close()

	parallel := broadcastParallel
	if parallel <= 0 {
		parallel = a.cfg.Broadcast.Parallelism
	}
	results, err := a.orch.Broadcast(cmd.Context(), strings.Join(args, " "), remote.BroadcastOptions{
		Prefix:      broadcastPrefix,
		Match:       broadcastMatch,
		Window:      broadcastWindow,
		Parallelism: parallel,
	})

	out := cmd.OutOrStdout()
	ok := 0
	for _, r := range results {
		if r.OK() {
			ok++
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("✓"), r.Session)
			if r.Warning != "" {
				printWarning(cmd.ErrOrStderr(), "%s: %s", r.Session, r.Warning)
			}
			continue
		}
		fmt.Fprintf(out, "%s %s: %v\n", errorStyle.Render("✗"), r.Session, r.Err)
	}
	if len(results) > 0 {
		fmt.Fprintf(out, "\nDelivered to %d of %d sessions\n", ok, len(results))
	}
	return err
}
