package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	herrors "github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/lock"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/session"
	"github.com/hal9000-dev/hal9000/internal/state"
)

type sentKeys struct {
	socket, target, text string
	literal              bool
}

type fakeMux struct {
	mu       sync.Mutex
	sent     []sentKeys
	attached []string
	failOn   map[string]error
	capture  string
}

func (f *fakeMux) SendKeys(ctx context.Context, socket, target, text string, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failOn[target]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentKeys{socket, target, text, literal})
	return nil
}

func (f *fakeMux) CapturePane(ctx context.Context, socket, target string, history int) (string, error) {
	return f.capture, nil
}

func (f *fakeMux) Attach(ctx context.Context, socket, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = append(f.attached, socket+" "+target)
	return nil
}

type fakeLister []string

func (l fakeLister) ListRunning(ctx context.Context) ([]string, error) { return l, nil }

type fixture struct {
	store    *state.Store
	registry *session.Registry
	mux      *fakeMux
	ctrl     *Controller
}

func newFixture(t *testing.T, running ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	locks := lock.NewManager(filepath.Join(root, state.LocksDir), lock.WithRetryInterval(5*time.Millisecond))
	store := state.New(root, state.WithLockManager(locks))
	if err := store.Ensure(); err != nil {
		t.Fatal(err)
	}
	reg := session.NewRegistry(store, nil)
	mux := &fakeMux{failOn: map[string]error{}}
	return &fixture{
		store:    store,
		registry: reg,
		mux:      mux,
		ctrl:     New(store, reg, mux, fakeLister(running), WithParallelism(2)),
	}
}

// add registers a session and, when withSocket is set, creates its socket
// file.
func (f *fixture) add(t *testing.T, name string, slot int, withSocket bool) *session.Session {
	t.Helper()
	s := &session.Session{
		Name:      session.MustName(name),
		Prefix:    "squad",
		Slot:      slot,
		Container: fmt.Sprintf("squad-%s-slot%d", name, slot),
		Socket:    f.store.SocketPath(name),
		Status:    session.StatusRunning,
	}
	if err := f.registry.Record(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if withSocket {
		if err := os.WriteFile(s.Socket, nil, 0600); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestWindow(t *testing.T) {
	tests := map[string]string{
		"":      "main",
		"0":     "main",
		"main":  "main",
		"1":     "shell",
		"shell": "shell",
		"2":     "2",
	}
	for in, want := range tests {
		if got := Window(in); got != want {
			t.Errorf("Window(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveSocket(t *testing.T) {
	f := newFixture(t)
	f.add(t, "feature-auth", 1, true)
	f.add(t, "feature-api", 2, false)

	name, socket, err := f.ctrl.ResolveSocket(context.Background(), "Feature/Auth")
	if err != nil {
		t.Fatalf("ResolveSocket() error = %v", err)
	}
	if name != "feature-auth" || socket != f.store.SocketPath("feature-auth") {
		t.Errorf("ResolveSocket() = %q, %q", name, socket)
	}

	_, _, err = f.ctrl.ResolveSocket(context.Background(), "feature-api")
	if !herrors.Is(err, herrors.ErrSocketNotFound) {
		t.Fatalf("ResolveSocket(no socket) error = %v, want ErrSocketNotFound", err)
	}
	if !strings.Contains(err.Error(), "feature-auth") {
		t.Errorf("error %q does not list known sessions", err)
	}
	if herrors.ExitCode(err) != herrors.ExitResolution {
		t.Errorf("ExitCode() = %d, want %d", herrors.ExitCode(err), herrors.ExitResolution)
	}

	if _, _, err := f.ctrl.ResolveSocket(context.Background(), "///"); !herrors.Is(err, herrors.ErrInvalidInput) {
		t.Errorf("ResolveSocket(///) error = %v, want ErrInvalidInput", err)
	}

	// The container-style name shown by list resolves to the bare session.
	name, socket, err = f.ctrl.ResolveSocket(context.Background(), "squad-feature-auth")
	if err != nil {
		t.Fatalf("ResolveSocket(qualified) error = %v", err)
	}
	if name != "feature-auth" || socket != f.store.SocketPath("feature-auth") {
		t.Errorf("ResolveSocket(qualified) = %q, %q", name, socket)
	}
}

func TestIsAlive(t *testing.T) {
	f := newFixture(t, "squad-up-slot1")
	f.add(t, "up", 1, true)
	f.add(t, "down", 2, true)
	if err := os.WriteFile(f.store.SocketPath("stray"), nil, 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		wantAlive   bool
		wantWarning bool
	}{
		{"up", true, false},
		{"down", false, true},
		{"stray", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live, err := f.ctrl.IsAlive(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("IsAlive() error = %v", err)
			}
			if live.Alive != tt.wantAlive || (live.Warning != "") != tt.wantWarning {
				t.Errorf("IsAlive() = %+v", live)
			}
		})
	}

	if _, err := f.ctrl.IsAlive(context.Background(), "ghost"); !herrors.Is(err, herrors.ErrSocketNotFound) {
		t.Errorf("IsAlive(ghost) error = %v, want ErrSocketNotFound", err)
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	f.add(t, "worker", 1, true)

	if _, err := f.ctrl.Send(context.Background(), "worker", "1", "C-c ls"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(f.mux.sent) != 2 {
		t.Fatalf("sent %d key batches, want 2", len(f.mux.sent))
	}
	first, second := f.mux.sent[0], f.mux.sent[1]
	if first.target != "worker:shell" || first.text != "C-c ls" || !first.literal {
		t.Errorf("first send = %+v", first)
	}
	if second.text != "Enter" || second.literal {
		t.Errorf("second send = %+v, want non-literal Enter", second)
	}
	if first.socket != f.store.SocketPath("worker") {
		t.Errorf("socket = %q", first.socket)
	}
}

func TestSend_WarnsWhenNotAlive(t *testing.T) {
	tests := []struct {
		name        string
		running     []string
		wantWarning string
	}{
		{"container running", []string{"squad-worker-slot1"}, ""},
		{"container stopped", nil, "container squad-worker-slot1 is not running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.add(t, "worker", 1, true)
			var buf bytes.Buffer
			ctrl := New(f.store, f.registry, f.mux, fakeLister(tt.running),
				WithLogger(logging.NewWriterLogger(&buf, logging.LevelDebug)))

			live, err := ctrl.Send(context.Background(), "worker", "", "ls")
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if len(f.mux.sent) != 2 {
				t.Errorf("sent %d key batches, want 2", len(f.mux.sent))
			}

			attachLive, err := ctrl.Attach(context.Background(), "worker", "")
			if err != nil {
				t.Fatalf("Attach() error = %v", err)
			}

			if tt.wantWarning == "" {
				if live.Warning != "" || attachLive.Warning != "" || !live.Alive {
					t.Errorf("unexpected warning: send %+v, attach %+v", live, attachLive)
				}
				if strings.Contains(buf.String(), `"level":"WARN"`) {
					t.Errorf("unexpected WARN log: %s", buf.String())
				}
				return
			}
			for _, got := range []Liveness{live, attachLive} {
				if got.Alive || !strings.Contains(got.Warning, tt.wantWarning) {
					t.Errorf("Liveness = %+v, want warning %q", got, tt.wantWarning)
				}
			}
			if !strings.Contains(buf.String(), `"level":"WARN"`) || !strings.Contains(buf.String(), tt.wantWarning) {
				t.Errorf("log missing WARN %q: %s", tt.wantWarning, buf.String())
			}
		})
	}
}

func TestBroadcast_ReportsWarnings(t *testing.T) {
	f := newFixture(t, "squad-up-slot1")
	f.add(t, "up", 1, true)
	f.add(t, "down", 2, true)

	results, err := f.ctrl.Broadcast(context.Background(), "ls", BroadcastOptions{})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Session != "up" || results[0].Warning != "" {
		t.Errorf("results[0] = %+v, want no warning", results[0])
	}
	if results[1].Session != "down" || !strings.Contains(results[1].Warning, "not running") || !results[1].OK() {
		t.Errorf("results[1] = %+v, want delivered with warning", results[1])
	}
}

func TestCaptureAndAttach(t *testing.T) {
	f := newFixture(t)
	f.add(t, "worker", 1, true)
	f.mux.capture = "$ ready"

	out, err := f.ctrl.Capture(context.Background(), "worker", "", 0)
	if err != nil || out != "$ ready" {
		t.Errorf("Capture() = %q, %v", out, err)
	}

	if _, err := f.ctrl.Attach(context.Background(), "worker", "shell"); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	want := f.store.SocketPath("worker") + " worker:shell"
	if len(f.mux.attached) != 1 || f.mux.attached[0] != want {
		t.Errorf("attached = %v, want [%s]", f.mux.attached, want)
	}
}

func TestBroadcast_IsolatesStaleTarget(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", 1, true)
	f.add(t, "b", 2, false)
	f.add(t, "c", 3, true)

	results, err := f.ctrl.Broadcast(context.Background(), "git status", BroadcastOptions{Prefix: "squad"})

	var berr *herrors.BroadcastError
	if !errors.As(err, &berr) {
		t.Fatalf("Broadcast() error = %v, want *BroadcastError", err)
	}
	if berr.Total != 3 || len(berr.Failed) != 1 || berr.Failed["b"] == nil {
		t.Errorf("BroadcastError = %+v", berr)
	}
	if herrors.ExitCode(err) != herrors.ExitPartial {
		t.Errorf("ExitCode() = %d, want %d", herrors.ExitCode(err), herrors.ExitPartial)
	}

	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	var ok int
	for i, want := range []session.Name{"a", "b", "c"} {
		if results[i].Session != want {
			t.Errorf("results[%d].Session = %q, want %q", i, results[i].Session, want)
		}
		if results[i].OK() {
			ok++
		}
	}
	if ok != 2 {
		t.Errorf("ok = %d, want 2", ok)
	}

	var targets []string
	for _, s := range f.mux.sent {
		if s.literal {
			targets = append(targets, s.target)
		}
	}
	sort.Strings(targets)
	if strings.Join(targets, ",") != "a:main,c:main" {
		t.Errorf("delivered to %v", targets)
	}
}

func TestBroadcast_SendFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", 1, true)
	f.add(t, "b", 2, true)
	f.mux.failOn["a:main"] = errors.New("send-keys exited 1")

	results, err := f.ctrl.Broadcast(context.Background(), "ls", BroadcastOptions{})
	if !herrors.Is(err, herrors.ErrPartialFailure) {
		t.Fatalf("Broadcast() error = %v, want partial failure", err)
	}
	if results[0].OK() || !results[1].OK() {
		t.Errorf("results = %+v", results)
	}
}

func TestBroadcast_Match(t *testing.T) {
	f := newFixture(t)
	f.add(t, "feature-auth", 1, true)
	f.add(t, "feature-api", 2, true)
	f.add(t, "bugfix-login", 3, true)

	results, err := f.ctrl.Broadcast(context.Background(), "make test", BroadcastOptions{Match: "feature-*"})
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		if !strings.HasPrefix(string(r.Session), "feature-") {
			t.Errorf("unexpected target %q", r.Session)
		}
	}
}

func TestBroadcast_NoTargets(t *testing.T) {
	f := newFixture(t)
	f.add(t, "a", 1, true)

	_, err := f.ctrl.Broadcast(context.Background(), "ls", BroadcastOptions{Prefix: "other"})
	if !herrors.Is(err, herrors.ErrSessionNotFound) {
		t.Errorf("Broadcast() error = %v, want ErrSessionNotFound", err)
	}

	_, err = f.ctrl.Broadcast(context.Background(), "ls", BroadcastOptions{Match: "[unclosed"})
	if !herrors.Is(err, herrors.ErrInvalidInput) {
		t.Errorf("Broadcast(bad glob) error = %v, want ErrInvalidInput", err)
	}
}
