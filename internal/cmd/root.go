package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/config"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/hal9000-dev/hal9000/internal/state"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "hal9000",
	Short: "Containerized worker session orchestrator",
	Long: `hal9000 runs isolated worker sessions, one per project or branch, each
backed by a Docker container and a tmux session with its own control socket.

All state lives under $HAL9000_HOME (default ~/.hal9000): locks, the session
registry, control sockets, the audit log and debug logs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// newDeps supplies the orchestrator collaborators. Tests replace it with
// in-memory fakes.
var newDeps = func(logger *logging.Logger) orchestrator.Deps {
	return orchestrator.Deps{Logger: logger}
}

// isTerminal reports whether r is an interactive terminal.
var isTerminal = func(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && strings.HasPrefix(err.Error(), "unknown command") {
		return errors.NewValidationError(err.Error())
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/hal9000/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errors.NewValidationError(err.Error())
	})
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HAL9000")
	// HAL9000_LOCK_MAX_WAIT_SECONDS for lock.max_wait_seconds
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// usageArgs reports argument count errors as usage errors.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return errors.NewValidationError(err.Error())
		}
		return nil
	}
}

// app is what a verb needs to run: the orchestrator and the logger that
// must be closed when the verb returns.
type app struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	logger *logging.Logger
}

func (a *app) Close() {
	_ = a.logger.Close()
}

// newApp loads the configuration and wires an orchestrator for verb.
func newApp(verb string) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.NewValidationError(err.Error()).WithField("config")
	}

	logDir := filepath.Join(cfg.State.HomeDir(), state.LogsDir)
	logger, err := logging.NewLoggerWithRotation(logDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		// Debug logging is best effort; the state root is checked by New.
		logger = logging.NopLogger()
	}
	logger = logger.WithCommand(verb)

	orch, err := orchestrator.New(cfg, newDeps(logger))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return &app{cfg: cfg, orch: orch, logger: logger}, nil
}
