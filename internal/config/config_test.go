package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Session.Prefix != "hal9000" {
		t.Errorf("Session.Prefix = %q, want %q", cfg.Session.Prefix, "hal9000")
	}
	if cfg.Lock.MaxWaitSeconds != 30 {
		t.Errorf("Lock.MaxWaitSeconds = %d, want 30", cfg.Lock.MaxWaitSeconds)
	}
	if cfg.Lock.RetryIntervalMs != 1000 {
		t.Errorf("Lock.RetryIntervalMs = %d, want 1000", cfg.Lock.RetryIntervalMs)
	}
	if cfg.Audit.MaxSizeBytes != 10*1024*1024 {
		t.Errorf("Audit.MaxSizeBytes = %d, want 10 MiB", cfg.Audit.MaxSizeBytes)
	}
	if cfg.Audit.MaxFiles != 5 {
		t.Errorf("Audit.MaxFiles = %d, want 5", cfg.Audit.MaxFiles)
	}
	if !cfg.Slots.Locked {
		t.Error("Slots.Locked should be true by default")
	}
	if cfg.Container.Runtime != "docker" {
		t.Errorf("Container.Runtime = %q, want docker", cfg.Container.Runtime)
	}
	if cfg.Broadcast.Parallelism != 4 {
		t.Errorf("Broadcast.Parallelism = %d, want 4", cfg.Broadcast.Parallelism)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()
	if got := cfg.Lock.LockMaxWait(); got != 30*time.Second {
		t.Errorf("LockMaxWait() = %v, want 30s", got)
	}
	if got := cfg.Lock.RetryInterval(); got != time.Second {
		t.Errorf("RetryInterval() = %v, want 1s", got)
	}
	if got := cfg.Tmux.StartupTimeout(); got != 15*time.Second {
		t.Errorf("StartupTimeout() = %v, want 15s", got)
	}
	if got := cfg.Container.StopTimeout(); got != 10*time.Second {
		t.Errorf("StopTimeout() = %v, want 10s", got)
	}
}

func TestContainerConfig_Profiles(t *testing.T) {
	cfg := Default()
	want := []string{"base", "java", "multi", "node", "python"}
	got := cfg.Container.Profiles()
	if len(got) != len(want) {
		t.Fatalf("Profiles() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Profiles()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStateConfig_HomeDir(t *testing.T) {
	t.Run("explicit", func(t *testing.T) {
		s := StateConfig{Home: "/srv/hal"}
		if got := s.HomeDir(); got != "/srv/hal" {
			t.Errorf("HomeDir() = %q, want /srv/hal", got)
		}
	})

	t.Run("default under user home", func(t *testing.T) {
		home, err := os.UserHomeDir()
		if err != nil {
			t.Skip("no home directory")
		}
		var s StateConfig
		if got, want := s.HomeDir(), filepath.Join(home, ".hal9000"); got != want {
			t.Errorf("HomeDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/hal9000"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "hal9000"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/hal9000/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestLoad_HomeEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv(HomeEnvVar, "/tmp/hal-state")

	SetDefaults()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.Home != "/tmp/hal-state" {
		t.Errorf("State.Home = %q, want /tmp/hal-state", cfg.State.Home)
	}
	if cfg.Session.Prefix != "hal9000" {
		t.Errorf("Session.Prefix = %q, want default", cfg.Session.Prefix)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	SetDefaults()
	viper.Set("broadcast.parallelism", 0)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() should reject parallelism 0")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("Load() error type = %T, want ValidationErrors", err)
	}
	if verrs[0].Field != "broadcast.parallelism" {
		t.Errorf("Field = %q, want broadcast.parallelism", verrs[0].Field)
	}

	if cfg := Get(); cfg.Broadcast.Parallelism != 4 {
		t.Errorf("Get() should fall back to defaults, got parallelism %d", cfg.Broadcast.Parallelism)
	}
}
