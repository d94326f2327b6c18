package config

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// HomeEnvVar overrides the runtime-state root directory.
const HomeEnvVar = "HAL9000_HOME"

// Config represents the complete hal9000 configuration
type Config struct {
	State     StateConfig     `mapstructure:"state"`
	Session   SessionConfig   `mapstructure:"session"`
	Lock      LockConfig      `mapstructure:"lock"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Slots     SlotsConfig     `mapstructure:"slots"`
	Container ContainerConfig `mapstructure:"container"`
	Tmux      TmuxConfig      `mapstructure:"tmux"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StateConfig locates the runtime-state root under which locks, registry
// files, sockets and logs live.
type StateConfig struct {
	// Home is the state root. Empty means ~/.hal9000. Overridden by HAL9000_HOME.
	Home string `mapstructure:"home"`
}

// SessionConfig controls session naming
type SessionConfig struct {
	// Prefix is the default name prefix for containers and broadcast targets (default: "hal9000")
	Prefix string `mapstructure:"prefix"`
	// DefaultProfile is used when spawn is not given a profile (default: "base")
	DefaultProfile string `mapstructure:"default_profile"`
}

// LockConfig controls the bounded wait of filesystem locks
type LockConfig struct {
	// MaxWaitSeconds is how long Acquire retries before failing (default: 30)
	MaxWaitSeconds int `mapstructure:"max_wait_seconds"`
	// RetryIntervalMs is the fixed retry interval (default: 1000)
	RetryIntervalMs int `mapstructure:"retry_interval_ms"`
}

// AuditConfig controls the audit log rotation
type AuditConfig struct {
	// MaxSizeBytes triggers rotation once the active log reaches it (default: 10 MiB)
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	// MaxFiles is the number of rotated files retained (default: 5)
	MaxFiles int `mapstructure:"max_files"`
}

// SlotsConfig controls slot allocation
type SlotsConfig struct {
	// Locked guards scan-and-start with a per-prefix lock (default: true).
	// When false two concurrent spawns may pick the same slot.
	Locked bool `mapstructure:"locked"`
}

// ContainerConfig controls how worker containers are started
type ContainerConfig struct {
	// Runtime is the container CLI binary (default: "docker")
	Runtime string `mapstructure:"runtime"`
	// Images maps a profile to its image reference
	Images map[string]string `mapstructure:"images"`
	// Volumes are shared named volumes mounted into every worker, as "name:/path"
	Volumes []string `mapstructure:"volumes"`
	// Workdir is where the project directory is mounted inside the container (default: "/workspace")
	Workdir string `mapstructure:"workdir"`
	// MainCommand runs in window 0 of the worker session (default: "claude")
	MainCommand string `mapstructure:"main_command"`
	// ShellCommand runs in window 1 of the worker session (default: "bash")
	ShellCommand string `mapstructure:"shell_command"`
	// StopTimeoutSeconds is passed to the runtime's stop command (default: 10)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

// TmuxConfig controls the worker terminal sessions
type TmuxConfig struct {
	// Binary is the tmux executable (default: "tmux")
	Binary string `mapstructure:"binary"`
	// Width is the width of new sessions
	Width int `mapstructure:"width"`
	// Height is the height of new sessions
	Height int `mapstructure:"height"`
	// StartupTimeoutSeconds bounds the wait for a new worker's socket (default: 15)
	StartupTimeoutSeconds int `mapstructure:"startup_timeout_seconds"`
}

// BroadcastConfig controls fan-out delivery
type BroadcastConfig struct {
	// Parallelism bounds concurrent deliveries (default: 4, 1 = sequential)
	Parallelism int `mapstructure:"parallelism"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum level written to debug.log (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB rotates debug.log at this size (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated debug logs kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Prefix:         "hal9000",
			DefaultProfile: "base",
		},
		Lock: LockConfig{
			MaxWaitSeconds:  30,
			RetryIntervalMs: 1000,
		},
		Audit: AuditConfig{
			MaxSizeBytes: 10 * 1024 * 1024,
			MaxFiles:     5,
		},
		Slots: SlotsConfig{
			Locked: true,
		},
		Container: ContainerConfig{
			Runtime: "docker",
			Images: map[string]string{
				"base":   "ghcr.io/hal9000-dev/worker:base",
				"python": "ghcr.io/hal9000-dev/worker:python",
				"node":   "ghcr.io/hal9000-dev/worker:node",
				"java":   "ghcr.io/hal9000-dev/worker:java",
				"multi":  "ghcr.io/hal9000-dev/worker:multi",
			},
			Volumes:            []string{"hal9000-claude-home:/root/.claude"},
			Workdir:            "/workspace",
			MainCommand:        "claude",
			ShellCommand:       "bash",
			StopTimeoutSeconds: 10,
		},
		Tmux: TmuxConfig{
			Binary:                "tmux",
			Width:                 200,
			Height:                50,
			StartupTimeoutSeconds: 15,
		},
		Broadcast: BroadcastConfig{
			Parallelism: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// LockMaxWait returns the lock wait bound as a time.Duration
func (c *LockConfig) LockMaxWait() time.Duration {
	return time.Duration(c.MaxWaitSeconds) * time.Second
}

// RetryInterval returns the lock retry interval as a time.Duration
func (c *LockConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMs) * time.Millisecond
}

// StartupTimeout returns the socket wait bound as a time.Duration
func (c *TmuxConfig) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutSeconds) * time.Second
}

// StopTimeout returns the container stop grace period as a time.Duration
func (c *ContainerConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// Profiles returns the configured profile names, sorted.
func (c *ContainerConfig) Profiles() []string {
	names := make([]string, 0, len(c.Images))
	for name := range c.Images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HomeDir resolves the state root: the configured value, else ~/.hal9000.
func (c *StateConfig) HomeDir() string {
	if c.Home != "" {
		return c.Home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hal9000"
	}
	return filepath.Join(home, ".hal9000")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("state.home", defaults.State.Home)

	viper.SetDefault("session.prefix", defaults.Session.Prefix)
	viper.SetDefault("session.default_profile", defaults.Session.DefaultProfile)

	viper.SetDefault("lock.max_wait_seconds", defaults.Lock.MaxWaitSeconds)
	viper.SetDefault("lock.retry_interval_ms", defaults.Lock.RetryIntervalMs)

	viper.SetDefault("audit.max_size_bytes", defaults.Audit.MaxSizeBytes)
	viper.SetDefault("audit.max_files", defaults.Audit.MaxFiles)

	viper.SetDefault("slots.locked", defaults.Slots.Locked)

	viper.SetDefault("container.runtime", defaults.Container.Runtime)
	viper.SetDefault("container.images", defaults.Container.Images)
	viper.SetDefault("container.volumes", defaults.Container.Volumes)
	viper.SetDefault("container.workdir", defaults.Container.Workdir)
	viper.SetDefault("container.main_command", defaults.Container.MainCommand)
	viper.SetDefault("container.shell_command", defaults.Container.ShellCommand)
	viper.SetDefault("container.stop_timeout_seconds", defaults.Container.StopTimeoutSeconds)

	viper.SetDefault("tmux.binary", defaults.Tmux.Binary)
	viper.SetDefault("tmux.width", defaults.Tmux.Width)
	viper.SetDefault("tmux.height", defaults.Tmux.Height)
	viper.SetDefault("tmux.startup_timeout_seconds", defaults.Tmux.StartupTimeoutSeconds)

	viper.SetDefault("broadcast.parallelism", defaults.Broadcast.Parallelism)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// HAL9000_HOME predates the HAL9000_<SECTION>_<KEY> scheme.
	_ = viper.BindEnv("state.home", HomeEnvVar)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded values cannot be decoded or fail validation.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hal9000")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hal9000"
	}
	return filepath.Join(home, ".config", "hal9000")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
