package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Inspect and clear state locks",
	Long: `Locks serialize access to shared state: the session registry, slot
allocation per prefix, shared volumes, squads and individual sessions.
A process that crashes while holding a lock leaves it behind; the next
acquirer fails after lock.max_wait_seconds and names the lock to clear.`,
}

var lockListCmd = &cobra.Command{
	Use:   "list",
	Short: "List held locks and their owners",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runLockList,
}

var lockClearCmd = &cobra.Command{
	Use:   "clear <name>...",
	Short: "Force-remove stale locks",
	Long: `Force-remove locks left behind by crashed processes. Only clear a lock
when its owner is no longer running: clearing a live lock lets two
processes modify the same state.`,
	Args: usageArgs(cobra.MinimumNArgs(1)),
	RunE: runLockClear,
}

func init() {
	rootCmd.AddCommand(lockCmd)
	lockCmd.AddCommand(lockListCmd)
	lockCmd.AddCommand(lockClearCmd)
}

func runLockList(cmd *cobra.Command, args []string) error {
	a, err := newApp("lock")
	if err != nil {
		return err
	}
	defer a.Close()

	locks, err := a.orch.Locks()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(locks) == 0 {
		fmt.Fprintln(out, "No locks held.")
		return nil
	}

	t := newTable("LOCK", "PID", "HOST", "AGE")
	for _, l := range locks {
		if l.Owner == nil {
			t.add(l.Name, mutedStyle.Render("?"), mutedStyle.Render("?"), mutedStyle.Render("unknown"))
			continue
		}
		age := time.Since(l.Owner.AcquiredAt).Round(time.Second)
		t.add(l.Name, fmt.Sprint(l.Owner.PID), l.Owner.Hostname, age.String())
	}
	t.render(out)
	return nil
}

func runLockClear(cmd *cobra.Command, args []string) error {
	a, err := newApp("lock")
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	for _, name := range args {
		removed, err := a.orch.ClearLock(name)
		if err != nil {
			return err
		}
		if removed {
			fmt.Fprintf(out, "%s Cleared %s\n", okStyle.Render("✓"), name)
		} else {
			fmt.Fprintf(out, "Lock %s is not held\n", name)
		}
	}
	return nil
}
