package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worker sessions and their leftovers",
	Long: `Tear down every registered session (or those under --prefix): tmux
sessions, containers, control sockets, managed worktrees and registry
entries. Control sockets with no registered session are removed as well.

With --force, containers following the <prefix>-<name>-slot<N> pattern
that no session is registered for are also stopped and removed.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: runCleanup,
}

var (
	cleanupYes    bool
	cleanupPrefix string
	cleanupForce  bool
	cleanupDryRun bool
)

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Do not ask for confirmation")
	cleanupCmd.Flags().StringVar(&cleanupPrefix, "prefix", "", "Only clean up sessions with this prefix")
	cleanupCmd.Flags().BoolVar(&cleanupForce, "force", false, "Also remove unregistered containers matching the prefix")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing anything")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	a, err := newApp("cleanup")
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	views, err := a.orch.List(ctx, cleanupPrefix)
	if err != nil {
		return err
	}

	if len(views) > 0 {
		fmt.Fprintf(out, "Sessions to remove (%d):\n", len(views))
		for _, v := range views {
			fmt.Fprintf(out, "  %s  %s  %s\n", v.Name, statusStyle(v.Status).Render(string(v.Status)), v.Container)
		}
	} else {
		fmt.Fprintln(out, "No registered sessions.")
	}

	if cleanupDryRun {
		fmt.Fprintln(out, "\nDry run - nothing was removed.")
		return nil
	}

	// Cleanup also removes stray sockets and, with --force, unregistered
	// containers, so it is confirmed even when no session is registered.
	if !cleanupYes {
		if !isTerminal(cmd.InOrStdin()) {
			return errors.NewValidationError("refusing to clean up without confirmation; pass --yes")
		}
		if !confirm(cmd.InOrStdin(), out, "\nProceed with cleanup?") {
			fmt.Fprintln(out, "Cancelled.")
			return nil
		}
	}

	report, err := a.orch.Cleanup(ctx, orchestrator.CleanupOptions{
		Prefix: cleanupPrefix,
		Force:  cleanupForce,
	})
	if report != nil {
		printCleanupReport(out, report)
	}
	return err
}

// confirm prints question and reads a y/N answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func printCleanupReport(out io.Writer, r *orchestrator.CleanupReport) {
	if r.Empty() {
		fmt.Fprintln(out, "\nNothing to clean up.")
		return
	}
	fmt.Fprintln(out)
	if n := len(r.Sessions); n > 0 {
		fmt.Fprintf(out, "%s Removed %d session(s)\n", okStyle.Render("✓"), n)
	}
	if n := len(r.Worktrees); n > 0 {
		fmt.Fprintf(out, "%s Removed %d worktree(s)\n", okStyle.Render("✓"), n)
	}
	if n := len(r.Sockets); n > 0 {
		fmt.Fprintf(out, "%s Removed %d stray socket(s)\n", okStyle.Render("✓"), n)
	}
	if n := len(r.Containers); n > 0 {
		fmt.Fprintf(out, "%s Removed %d unregistered container(s)\n", okStyle.Render("✓"), n)
	}
}
