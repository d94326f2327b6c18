package cmd

import (
	"fmt"
	"sort"

	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/spf13/cobra"
)

var squadCmd = &cobra.Command{
	Use:   "squad <file>",
	Short: "Spawn a squad of workers from a YAML file",
	Long: `Spawn every worker listed in a squad file and send each its prompt.

Example squad.yaml:

  name: auth-rework
  prefix: squad
  project: ../app
  worktree: true
  workers:
    - branch: feature/auth
      prompt: "Implement the token refresh flow"
    - branch: feature/api
      profile: go

Workers that are already running are left alone, so a squad file can be
applied again after fixing a failed worker. Only one run per squad name
proceeds at a time.`,
	Args: usageArgs(cobra.ExactArgs(1)),
	RunE: runSquad,
}

var squadPrefix string

func init() {
	rootCmd.AddCommand(squadCmd)

	squadCmd.Flags().StringVar(&squadPrefix, "prefix", "", "Override the prefix given in the squad file")
}

func runSquad(cmd *cobra.Command, args []string) error {
	sf, err := orchestrator.LoadSquadFile(args[0])
	if err != nil {
		return err
	}
	if squadPrefix != "" {
		sf.Prefix = squadPrefix
	}

	a, err := newApp("squad")
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.orch.Squad(cmd.Context(), sf)
	if report == nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Squad %s (run %s)\n", sf.Name, report.RunID)
	for _, s := range report.Spawned {
		fmt.Fprintf(out, "  %s %s  slot %d  %s\n", okStyle.Render("✓"), s.Name, s.Slot, s.Container)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "  %s %s  already running\n", mutedStyle.Render("-"), s.Name)
	}
	failed := make([]string, 0, len(report.Failed))
	for name := range report.Failed {
		failed = append(failed, name)
	}
	sort.Strings(failed)
	for _, name := range failed {
		fmt.Fprintf(out, "  %s %s: %v\n", errorStyle.Render("✗"), name, report.Failed[name])
	}
	return err
}
