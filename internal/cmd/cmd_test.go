package cmd

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/hal9000-dev/hal9000/internal/config"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/lock"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/orchestrator"
	"github.com/hal9000-dev/hal9000/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type cliEnv struct {
	home    string
	project string
	rt      *testutil.FakeRuntime
	mux     *testutil.FakeMultiplexer
}

// setupCLI points the state root and config dir at temp directories and
// swaps the orchestrator collaborators for fakes.
func setupCLI(t *testing.T) *cliEnv {
	t.Helper()
	env := &cliEnv{
		home:    t.TempDir(),
		project: t.TempDir(),
		rt:      testutil.NewFakeRuntime(),
		mux:     testutil.NewFakeMultiplexer(),
	}
	t.Setenv("HAL9000_HOME", env.home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HAL9000_LOCK_RETRY_INTERVAL_MS", "5")
	t.Setenv("HAL9000_LOCK_MAX_WAIT_SECONDS", "1")

	origDeps, origTerminal := newDeps, isTerminal
	newDeps = func(logger *logging.Logger) orchestrator.Deps {
		return orchestrator.Deps{Runtime: env.rt, Mux: env.mux, Logger: logger}
	}
	isTerminal = func(io.Reader) bool { return false }
	t.Cleanup(func() {
		newDeps, isTerminal = origDeps, origTerminal
	})
	return env
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns its output.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := Execute()
	return ansi.Strip(buf.String()), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, "", args...)
	if err != nil {
		t.Fatalf("hal9000 %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func (e *cliEnv) spawn(t *testing.T, name string) string {
	t.Helper()
	return mustExecute(t, "spawn", e.project, "--name", name, "--prefix", "squad")
}

func TestSpawnListStop(t *testing.T) {
	env := setupCLI(t)

	out := mustExecute(t, "spawn", env.project, "--name", "auth", "--branch", "feature/auth", "--prefix", "squad")
	for _, want := range []string{"Spawned auth", "squad-auth-slot1", "feature/auth"} {
		if !strings.Contains(out, want) {
			t.Errorf("spawn output missing %q:\n%s", want, out)
		}
	}

	out = env.spawn(t, "auth")
	if !strings.Contains(out, "already running") {
		t.Errorf("second spawn output = %q, want already running", out)
	}

	out = mustExecute(t, "list")
	for _, want := range []string{"SESSION", "auth", "running", "squad-auth-slot1"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q:\n%s", want, out)
		}
	}

	out = mustExecute(t, "list", "--json")
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("list --json is not JSON: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0]["session"] != "auth" || rows[0]["socket_present"] != true {
		t.Errorf("list --json = %v", rows)
	}

	out = mustExecute(t, "stop", "auth")
	if !strings.Contains(out, "Stopped auth") {
		t.Errorf("stop output = %q", out)
	}
	if env.rt.IsRunning("squad-auth-slot1") {
		t.Error("container still running after stop")
	}

	out = mustExecute(t, "list")
	if !strings.Contains(out, "No sessions found") {
		t.Errorf("list after stop = %q", out)
	}
}

func TestList_ReportsOrphans(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "api")
	env.rt.Kill("squad-api-slot1")

	out := mustExecute(t, "list", "--prefix", "squad")
	if !strings.Contains(out, "orphaned") {
		t.Errorf("list output = %q, want orphaned", out)
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"unknown command", []string{"launch"}, errors.ExitUsage},
		{"unknown flag", []string{"list", "--bogus"}, errors.ExitUsage},
		{"too many args", []string{"spawn", "a", "b"}, errors.ExitUsage},
		{"send without command", []string{"send", "auth"}, errors.ExitUsage},
		{"bad since", []string{"audit", "--since", "yesterday"}, errors.ExitUsage},
		{"bad prefix", []string{"list", "--prefix", "Bad Prefix"}, errors.ExitUsage},
		{"unknown session", []string{"stop", "ghost"}, errors.ExitResolution},
		{"send to unknown session", []string{"send", "ghost", "ls"}, errors.ExitResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupCLI(t)
			_, err := executeCommand(t, "", tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := errors.ExitCode(err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.want)
			}
		})
	}
}

func TestSend_Capture(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "auth")
	env.mux.Output = "$ go test ./...\nok"

	out := mustExecute(t, "send", "auth", "go", "test", "./...", "--capture", "--wait", "0s")
	if out != "$ go test ./...\nok\n" {
		t.Errorf("send output = %q", out)
	}
	if got := env.mux.SentTo("auth:main"); len(got) != 1 || got[0] != "go test ./..." {
		t.Errorf("sent = %v", got)
	}

	mustExecute(t, "send", "auth", "--window", "shell", "ls")
	if got := env.mux.SentTo("auth:shell"); len(got) != 1 || got[0] != "ls" {
		t.Errorf("sent to shell = %v", got)
	}
}

func TestControl_WarnsWhenContainerStopped(t *testing.T) {
	const warning = "! auth: control socket exists but container squad-auth-slot1 is not running"
	tests := []struct {
		name string
		args []string
	}{
		{"send", []string{"send", "auth", "ls"}},
		{"attach", []string{"attach", "auth"}},
		{"broadcast", []string{"broadcast", "--prefix", "squad", "ls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupCLI(t)
			env.spawn(t, "auth")
			env.rt.Kill("squad-auth-slot1")
			isTerminal = func(io.Reader) bool { return true }

			out := mustExecute(t, tt.args...)
			if !strings.Contains(out, warning) {
				t.Errorf("output missing %q:\n%s", warning, out)
			}
		})
	}
}

func TestStop_QualifiedName(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "auth")
	env.spawn(t, "api")

	out := mustExecute(t, "stop", "squad-auth")
	if !strings.Contains(out, "Stopped auth") {
		t.Errorf("stop output = %q", out)
	}
	if env.rt.IsRunning("squad-auth-slot1") {
		t.Error("container still running after stop")
	}
	if !env.rt.IsRunning("squad-api-slot2") {
		t.Error("stop removed the wrong container")
	}
}

func TestBroadcast_PartialFailure(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "a")
	env.spawn(t, "b")
	env.mux.SendErr["b:main"] = stderrors.New("pane is dead")

	out, err := executeCommand(t, "", "broadcast", "--prefix", "squad", "git", "pull")
	if got := errors.ExitCode(err); got != errors.ExitPartial {
		t.Fatalf("ExitCode() = %d, want %d (err = %v)", got, errors.ExitPartial, err)
	}
	for _, want := range []string{"✓ a", "✗ b: pane is dead", "Delivered to 1 of 2 sessions"} {
		if !strings.Contains(out, want) {
			t.Errorf("broadcast output missing %q:\n%s", want, out)
		}
	}
	if got := env.mux.SentTo("a:main"); len(got) != 1 || got[0] != "git pull" {
		t.Errorf("sent to a = %v", got)
	}
}

func TestBroadcast_Match(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "feature-auth")
	env.spawn(t, "docs")

	mustExecute(t, "broadcast", "--match", "feature-*", "make")
	if got := env.mux.SentTo("feature-auth:main"); len(got) != 1 {
		t.Errorf("feature-auth received %v", got)
	}
	if got := env.mux.SentTo("docs:main"); len(got) != 0 {
		t.Errorf("docs received %v, want nothing", got)
	}
}

func TestAttach(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "auth")

	_, err := executeCommand(t, "", "attach", "auth")
	if errors.ExitCode(err) != errors.ExitUsage {
		t.Errorf("attach without terminal: err = %v, want usage error", err)
	}

	isTerminal = func(io.Reader) bool { return true }
	mustExecute(t, "attach", "auth", "shell")
	if len(env.mux.Attached) != 1 || env.mux.Attached[0] != "auth:shell" {
		t.Errorf("attached = %v", env.mux.Attached)
	}
}

func TestCleanup(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "a")
	env.spawn(t, "b")

	_, err := executeCommand(t, "", "cleanup")
	if errors.ExitCode(err) != errors.ExitUsage {
		t.Fatalf("non-interactive cleanup: err = %v, want usage error", err)
	}

	out := mustExecute(t, "cleanup", "--dry-run")
	if !strings.Contains(out, "Sessions to remove (2)") || !strings.Contains(out, "Dry run") {
		t.Errorf("dry run output = %q", out)
	}

	isTerminal = func(io.Reader) bool { return true }
	out, err = executeCommand(t, "n\n", "cleanup")
	if err != nil || !strings.Contains(out, "Cancelled") {
		t.Errorf("declined cleanup: out = %q, err = %v", out, err)
	}
	if !env.rt.IsRunning("squad-a-slot1") {
		t.Error("declined cleanup removed a container")
	}

	out, err = executeCommand(t, "y\n", "cleanup")
	if err != nil {
		t.Fatalf("cleanup: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Removed 2 session(s)") {
		t.Errorf("cleanup output = %q", out)
	}
	if env.rt.IsRunning("squad-a-slot1") || env.rt.IsRunning("squad-b-slot2") {
		t.Error("containers still running after cleanup")
	}

	out = mustExecute(t, "cleanup", "--yes")
	if !strings.Contains(out, "Nothing to clean up") {
		t.Errorf("second cleanup = %q", out)
	}
}

func TestCleanup_ForceRequiresConfirmation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		interactive bool
		stdin       string
		wantCode    int
		wantRunning bool
	}{
		{"non-interactive without yes", []string{"cleanup", "--force"}, false, "", errors.ExitUsage, true},
		{"declined", []string{"cleanup", "--force"}, true, "n\n", errors.ExitOK, true},
		{"confirmed", []string{"cleanup", "--force"}, true, "y\n", errors.ExitOK, false},
		{"yes flag", []string{"cleanup", "--force", "--yes"}, false, "", errors.ExitOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupCLI(t)
			env.rt = testutil.NewFakeRuntime("hal9000-orphan-slot1")
			isTerminal = func(io.Reader) bool { return tt.interactive }

			out, err := executeCommand(t, tt.stdin, tt.args...)
			if got := errors.ExitCode(err); got != tt.wantCode {
				t.Fatalf("ExitCode() = %d, want %d (err = %v)\n%s", got, tt.wantCode, err, out)
			}
			if got := env.rt.IsRunning("hal9000-orphan-slot1"); got != tt.wantRunning {
				t.Errorf("orphan container running = %v, want %v\n%s", got, tt.wantRunning, out)
			}
		})
	}
}

func TestSquad(t *testing.T) {
	env := setupCLI(t)
	file := filepath.Join(t.TempDir(), "squad.yaml")
	data := "name: rework\nprefix: team\nproject: " + env.project + "\nworkers:\n" +
		"  - name: auth\n    prompt: refresh tokens\n" +
		"  - name: api\n"
	if err := os.WriteFile(file, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	out := mustExecute(t, "squad", file)
	for _, want := range []string{"Squad rework", "auth  slot 1  team-auth-slot1", "api  slot 2  team-api-slot2"} {
		if !strings.Contains(out, want) {
			t.Errorf("squad output missing %q:\n%s", want, out)
		}
	}
	if got := env.mux.SentTo("auth:main"); len(got) != 1 || got[0] != "refresh tokens" {
		t.Errorf("prompt sent = %v", got)
	}

	out = mustExecute(t, "squad", file)
	if !strings.Contains(out, "already running") {
		t.Errorf("rerun output = %q", out)
	}

	_, err := executeCommand(t, "", "squad", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("squad with a missing file succeeded")
	}
}

func TestAudit(t *testing.T) {
	env := setupCLI(t)
	env.spawn(t, "auth")
	mustExecute(t, "send", "auth", "ls")
	mustExecute(t, "stop", "auth")

	out := mustExecute(t, "audit", "--event", "session")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit --event session = %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "session_spawn") || !strings.Contains(lines[1], "session_stop") {
		t.Errorf("audit lines out of order:\n%s", out)
	}

	out = mustExecute(t, "audit", "--limit", "1")
	if strings.Count(out, "\n") != 1 || !strings.Contains(out, "session_stop") {
		t.Errorf("audit --limit 1 = %q", out)
	}

	out = mustExecute(t, "audit", "--stats")
	for _, want := range []string{"EVENT", "command_send", "session_spawn", "session_stop"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit --stats missing %q:\n%s", want, out)
		}
	}

	out = mustExecute(t, "audit", "--until", "2000-01-01")
	if out != "" {
		t.Errorf("audit before 2000 = %q, want nothing", out)
	}
}

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2026-02-28T08:30:00Z", time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), false},
		{"2026-02-28T09:30:00+01:00", time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), false},
		{"2026-02-28", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), false},
		{"90m", now.Add(-90 * time.Minute), false},
		{"-1h", time.Time{}, true},
		{"last week", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseTimeFlag("since", tt.value, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTimeFlag(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseTimeFlag(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLockListAndClear(t *testing.T) {
	env := setupCLI(t)

	out := mustExecute(t, "lock", "list")
	if !strings.Contains(out, "No locks held") {
		t.Errorf("lock list = %q", out)
	}

	stale := lock.NewManager(filepath.Join(env.home, "locks"))
	if lease, err := stale.TryAcquire("slot-squad"); err != nil || lease == nil {
		t.Fatalf("TryAcquire() = %v, %v", lease, err)
	}

	out = mustExecute(t, "lock", "list")
	if !strings.Contains(out, "slot-squad") || !strings.Contains(out, "PID") {
		t.Errorf("lock list = %q", out)
	}

	out = mustExecute(t, "lock", "clear", "slot-squad")
	if !strings.Contains(out, "Cleared slot-squad") {
		t.Errorf("lock clear = %q", out)
	}
	out = mustExecute(t, "lock", "clear", "slot-squad")
	if !strings.Contains(out, "not held") {
		t.Errorf("second lock clear = %q", out)
	}

	out = mustExecute(t, "audit", "--event", "lock_clear")
	if !strings.Contains(out, "slot-squad") {
		t.Errorf("lock_clear not audited: %q", out)
	}
}

func TestConfigShow(t *testing.T) {
	setupCLI(t)
	t.Setenv("HAL9000_SESSION_PREFIX", "crew")

	out := mustExecute(t, "config", "show")
	for _, want := range []string{"broadcast:", "parallelism: 4", "prefix: crew", "default_profile: base"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInit(t *testing.T) {
	setupCLI(t)

	out := mustExecute(t, "config", "init")
	if !strings.Contains(out, "Created config file") {
		t.Errorf("config init = %q", out)
	}
	if _, err := executeCommand(t, "", "config", "init"); err == nil {
		t.Error("second config init succeeded, want already exists")
	}
}

func TestReportError(t *testing.T) {
	env := setupCLI(t)
	config.SetDefaults()
	debugLog := filepath.Join(env.home, "logs", "debug.log")

	tests := []struct {
		name     string
		err      error
		wantHint bool
	}{
		{"usage", errors.NewValidationError("bad flag"), false},
		{"resolution", errors.NewResolutionError("session", "ghost"), false},
		{"lock timeout", errors.NewLockTimeoutError("registry", "/tmp/registry.lock", time.Second), false},
		{"internal", stderrors.New("docker: connection refused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ReportError(&buf, tt.err)
			out := ansi.Strip(buf.String())
			if !strings.HasPrefix(out, "Error: "+tt.err.Error()) {
				t.Errorf("ReportError() = %q", out)
			}
			if got := strings.Contains(out, debugLog); got != tt.wantHint {
				t.Errorf("debug log hint = %v, want %v:\n%s", got, tt.wantHint, out)
			}
		})
	}

	var buf bytes.Buffer
	ReportError(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("ReportError(nil) wrote %q", buf.String())
	}
}
