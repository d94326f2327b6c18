package container

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	halerrors "github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/util"
)

// mockRunner records invocations and answers from runFn.
type mockRunner struct {
	mu    sync.Mutex
	calls [][]string
	runFn func(name string, args []string) (string, error)
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string{name}, args...))
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(name, args)
	}
	return "", nil
}

func (m *mockRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	_, err := m.Run(ctx, name, args...)
	return err
}

func (m *mockRunner) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return strings.Join(m.calls[len(m.calls)-1], " ")
}

func TestDockerRuntime_ListRunning(t *testing.T) {
	r := &mockRunner{runFn: func(string, []string) (string, error) {
		return "squad-feature-auth-slot1\n\nsquad-feature-api-slot2\n", nil
	}}
	d := NewDockerRuntime("", r)

	names, err := d.ListRunning(context.Background())
	if err != nil {
		t.Fatalf("ListRunning() error = %v", err)
	}
	if len(names) != 2 || names[0] != "squad-feature-auth-slot1" || names[1] != "squad-feature-api-slot2" {
		t.Errorf("ListRunning() = %v", names)
	}
	if got := r.last(); got != "docker ps --format {{.Names}}" {
		t.Errorf("command = %q", got)
	}
}

func TestDockerRuntime_Run(t *testing.T) {
	r := &mockRunner{runFn: func(string, []string) (string, error) { return "abc123", nil }}
	d := NewDockerRuntime("podman", r)

	id, err := d.Run(context.Background(), RunOptions{
		Name:    "squad-feature-auth-slot1",
		Image:   "ghcr.io/hal9000-dev/worker:base",
		Workdir: "/workspace",
		Mounts: []Mount{
			{Source: "/src/app", Target: "/workspace"},
			{Source: "hal9000-claude-home", Target: "/root/.claude", ReadOnly: true},
		},
		Env:     map[string]string{"WORKER_ID": "feature-auth", "HAL9000_SLOT": "1"},
		Labels:  map[string]string{LabelSession: "feature-auth"},
		Command: []string{"sleep", "infinity"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if id != "abc123" {
		t.Errorf("Run() id = %q", id)
	}

	want := "podman run -d --init --name squad-feature-auth-slot1" +
		" --label dev.hal9000.session=feature-auth" +
		" -v /src/app:/workspace -v hal9000-claude-home:/root/.claude:ro" +
		" -w /workspace" +
		" -e HAL9000_SLOT=1 -e WORKER_ID=feature-auth" +
		" ghcr.io/hal9000-dev/worker:base sleep infinity"
	if got := r.last(); got != want {
		t.Errorf("command =\n  %s\nwant\n  %s", got, want)
	}
}

func TestDockerRuntime_RunErrors(t *testing.T) {
	d := NewDockerRuntime("", &mockRunner{runFn: func(string, []string) (string, error) {
		return "", &util.CommandError{Name: "docker", ExitCode: 125, Stderr: "name already in use"}
	}})

	if _, err := d.Run(context.Background(), RunOptions{Name: "x"}); !errors.Is(err, halerrors.ErrInvalidInput) {
		t.Errorf("Run() without image error = %v, want validation error", err)
	}

	_, err := d.Run(context.Background(), RunOptions{Name: "x", Image: "img"})
	var se *halerrors.SessionError
	if !errors.As(err, &se) {
		t.Fatalf("Run() error = %v, want *SessionError", err)
	}
	if se.Container != "x" {
		t.Errorf("Container = %q, want x", se.Container)
	}
}

func TestDockerRuntime_StopRemoveIdempotent(t *testing.T) {
	missing := &util.CommandError{Name: "docker", ExitCode: 1, Stderr: "Error response from daemon: No such container: x"}
	r := &mockRunner{runFn: func(string, []string) (string, error) { return "", missing }}
	d := NewDockerRuntime("", r)

	if err := d.Stop(context.Background(), "x", 10*time.Second); err != nil {
		t.Errorf("Stop() of missing container error = %v", err)
	}
	if got := r.calls[0]; strings.Join(got, " ") != "docker stop -t 10 x" {
		t.Errorf("stop command = %v", got)
	}
	if err := d.Remove(context.Background(), "x"); err != nil {
		t.Errorf("Remove() of missing container error = %v", err)
	}
	if got := r.last(); got != "docker rm -f x" {
		t.Errorf("rm command = %q", got)
	}

	r.runFn = func(string, []string) (string, error) {
		return "", &util.CommandError{Name: "docker", ExitCode: 1, Stderr: "permission denied"}
	}
	if err := d.Stop(context.Background(), "x", time.Second); err == nil {
		t.Error("Stop() should surface other failures")
	}
}

func TestDockerRuntime_Volumes(t *testing.T) {
	r := &mockRunner{runFn: func(name string, args []string) (string, error) {
		if args[1] == "inspect" && args[2] == "missing" {
			return "", &util.CommandError{Name: name, ExitCode: 1}
		}
		return "", nil
	}}
	d := NewDockerRuntime("", r)
	ctx := context.Background()

	if ok, err := d.VolumeExists(ctx, "present"); err != nil || !ok {
		t.Errorf("VolumeExists(present) = %v, %v", ok, err)
	}
	if ok, err := d.VolumeExists(ctx, "missing"); err != nil || ok {
		t.Errorf("VolumeExists(missing) = %v, %v", ok, err)
	}
	if err := d.CreateVolume(ctx, "missing"); err != nil {
		t.Errorf("CreateVolume() error = %v", err)
	}
	if got := r.last(); got != "docker volume create missing" {
		t.Errorf("command = %q", got)
	}
}

func TestParseVolume(t *testing.T) {
	m, err := ParseVolume("hal9000-claude-home:/root/.claude")
	if err != nil {
		t.Fatalf("ParseVolume() error = %v", err)
	}
	if m.Source != "hal9000-claude-home" || m.Target != "/root/.claude" {
		t.Errorf("ParseVolume() = %+v", m)
	}

	for _, bad := range []string{"novolume", ":/x", "name:relative"} {
		if _, err := ParseVolume(bad); err == nil {
			t.Errorf("ParseVolume(%q) should fail", bad)
		}
	}
}

func TestDockerRuntime_RunningLabels(t *testing.T) {
	r := &mockRunner{runFn: func(string, []string) (string, error) {
		return "squad-a-slot1\tsquad\nsquad-red-b-slot1\tsquad-red\nunlabeled\t\n", nil
	}}
	d := NewDockerRuntime("", r)

	labels, err := d.RunningLabels(context.Background(), LabelPrefix)
	if err != nil {
		t.Fatalf("RunningLabels() error = %v", err)
	}
	want := map[string]string{"squad-a-slot1": "squad", "squad-red-b-slot1": "squad-red", "unlabeled": ""}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("RunningLabels() = %v, want %v", labels, want)
	}
	if got := r.last(); !strings.Contains(got, `{{.Label "dev.hal9000.prefix"}}`) {
		t.Errorf("command = %q", got)
	}
}

func TestSnapshotAndIsRunning(t *testing.T) {
	d := NewDockerRuntime("", &mockRunner{runFn: func(string, []string) (string, error) {
		return "a\nb", nil
	}})

	set, err := Snapshot(context.Background(), d)
	if err != nil || !set["a"] || !set["b"] || set["c"] {
		t.Errorf("Snapshot() = %v, %v", set, err)
	}
	if ok, _ := IsRunning(context.Background(), d, "b"); !ok {
		t.Error("IsRunning(b) = false")
	}
	if ok, _ := IsRunning(context.Background(), d, "c"); ok {
		t.Error("IsRunning(c) = true")
	}
}
