package cmd

import (
	"fmt"
	"os"

	"github.com/hal9000-dev/hal9000/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage hal9000 configuration",
	Long: `View and manage hal9000 configuration.

Configuration is read from $XDG_CONFIG_HOME/hal9000/config.yaml (or
~/.config/hal9000/config.yaml) and can be overridden with HAL9000_*
environment variables, e.g. HAL9000_LOCK_MAX_WAIT_SECONDS.
HAL9000_HOME relocates the state root.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file with the defaults",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Args:  usageArgs(cobra.NoArgs),
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	fmt.Fprint(out, string(data))

	if _, err := config.Load(); err != nil {
		fmt.Fprintf(out, "\n%s %v\n", warnStyle.Render("!"), err)
	}
	return nil
}

const configTemplate = `# hal9000 configuration

state:
  # State root for locks, registry, sockets and logs (HAL9000_HOME overrides)
  home: ""

session:
  prefix: hal9000
  default_profile: base

lock:
  # How long to wait for a held lock before failing
  max_wait_seconds: 30
  retry_interval_ms: 1000

audit:
  max_size_bytes: 10485760
  max_files: 5

slots:
  # Serialize slot allocation per prefix
  locked: true

container:
  runtime: docker
  # Image per profile
  images:
    base: ghcr.io/hal9000-dev/worker:base
    python: ghcr.io/hal9000-dev/worker:python
    node: ghcr.io/hal9000-dev/worker:node
    java: ghcr.io/hal9000-dev/worker:java
    multi: ghcr.io/hal9000-dev/worker:multi
  # Shared named volumes mounted into every worker, as name:/path
  volumes:
    - hal9000-claude-home:/root/.claude
  workdir: /workspace
  main_command: claude
  shell_command: bash
  stop_timeout_seconds: 10

tmux:
  binary: tmux
  width: 200
  height: 50
  startup_timeout_seconds: 15

broadcast:
  parallelism: 4

logging:
  # debug, info, warn or error
  level: info
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}
	fmt.Fprintf(out, "State root:    %s\n", config.Get().State.HomeDir())
	return nil
}
