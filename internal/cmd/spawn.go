package cmd

import (
	"fmt"

	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/spf13/cobra"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn [project]",
	Short: "Start a worker session",
	Long: `Start a worker session for a project directory (default: the current
directory). The worker gets the next free slot under its prefix, a container
named <prefix>-<name>-slot<N> and a tmux session with a main and a shell window.

The session name is taken from --name, else from --branch, else from the
project directory name. Spawning a name that is already running is a no-op.

With --worktree the worker runs in a new git worktree of the project on
--branch, created under .hal9000/worktrees and removed again by cleanup.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runSpawn,
}

var (
	spawnName     string
	spawnBranch   string
	spawnProfile  string
	spawnPrefix   string
	spawnWorktree bool
)

func init() {
	rootCmd.AddCommand(spawnCmd)

	spawnCmd.Flags().StringVarP(&spawnName, "name", "n", "", "Session name (default: derived from branch or project)")
	spawnCmd.Flags().StringVarP(&spawnBranch, "branch", "b", "", "Branch the worker operates on")
	spawnCmd.Flags().StringVarP(&spawnProfile, "profile", "p", "", "Container profile (default: session.default_profile)")
	spawnCmd.Flags().StringVar(&spawnPrefix, "prefix", "", "Container name prefix (default: session.prefix)")
	spawnCmd.Flags().BoolVarP(&spawnWorktree, "worktree", "w", false, "Run in a managed git worktree on --branch")
}

func runSpawn(cmd *cobra.Command, args []string) error {
	a, err := newApp("spawn")
	if err != nil {
		return err
	}
	defer a.Close()

	req := orchestrator.SpawnRequest{
		Name:     spawnName,
		Branch:   spawnBranch,
		Profile:  spawnProfile,
		Prefix:   spawnPrefix,
		Worktree: spawnWorktree,
	}
	if len(args) > 0 {
		req.Project = args[0]
	}

	res, err := a.orch.Spawn(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := res.Session
	if res.Skipped {
		fmt.Fprintf(out, "Session %s is already running (slot %d, container %s)\n", s.Name, s.Slot, s.Container)
		return nil
	}
	fmt.Fprintf(out, "%s Spawned %s\n", okStyle.Render("✓"), s.Name)
	fmt.Fprintf(out, "  Slot:      %d\n", s.Slot)
	fmt.Fprintf(out, "  Container: %s\n", s.Container)
	fmt.Fprintf(out, "  Directory: %s\n", s.Directory)
	if s.Branch != "" {
		fmt.Fprintf(out, "  Branch:    %s\n", s.Branch)
	}
	fmt.Fprintf(out, "\nAttach with: hal9000 attach %s\n", s.Name)
	return nil
}
