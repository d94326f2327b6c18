package testutil

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/hal9000-dev/hal9000/internal/container"
)

// FakeRuntime is an in-memory container.Runtime. Run marks a container
// running; Stop and Remove forget it.
type FakeRuntime struct {
	mu      sync.Mutex
	running map[string]container.RunOptions
	volumes map[string]bool

	// Started records every successful Run in order.
	Started []container.RunOptions
	// Stopped records every Stop in order.
	Stopped []string
	// VolumesCreated records every CreateVolume in order.
	VolumesCreated []string

	// RunErr, when set, is returned by Run for the given container name.
	RunErr map[string]error
}

// NewFakeRuntime returns a FakeRuntime with the given containers running.
func NewFakeRuntime(running ...string) *FakeRuntime {
	f := &FakeRuntime{
		running: make(map[string]container.RunOptions),
		volumes: make(map[string]bool),
		RunErr:  make(map[string]error),
	}
	for _, name := range running {
		f.running[name] = container.RunOptions{Name: name}
	}
	return f
}

// ListRunning returns running container names, sorted.
func (f *FakeRuntime) ListRunning(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.running))
	for name := range f.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RunningLabels maps running containers to the value of label key.
func (f *FakeRuntime) RunningLabels(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	labels := make(map[string]string, len(f.running))
	for name, opts := range f.running {
		labels[name] = opts.Labels[key]
	}
	return labels, nil
}

// Run starts a fake container. Names must be unique, like docker --name.
func (f *FakeRuntime) Run(ctx context.Context, opts container.RunOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.RunErr[opts.Name]; err != nil {
		return "", err
	}
	if _, ok := f.running[opts.Name]; ok {
		return "", fmt.Errorf("container name %q is already in use", opts.Name)
	}
	f.running[opts.Name] = opts
	f.Started = append(f.Started, opts)
	return "id-" + opts.Name, nil
}

// Stop stops a fake container.
func (f *FakeRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	f.Stopped = append(f.Stopped, name)
	return nil
}

// Remove removes a fake container.
func (f *FakeRuntime) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
	return nil
}

// VolumeExists reports whether CreateVolume was called for name.
func (f *FakeRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[name], nil
}

// CreateVolume records a volume.
func (f *FakeRuntime) CreateVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[name] = true
	f.VolumesCreated = append(f.VolumesCreated, name)
	return nil
}

// Kill simulates a container dying outside hal9000's control.
func (f *FakeRuntime) Kill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, name)
}

// IsRunning reports whether name is running.
func (f *FakeRuntime) IsRunning(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.running[name]
	return ok
}

// SentKeys is one SendKeys call recorded by FakeMultiplexer.
type SentKeys struct {
	Socket  string
	Target  string
	Text    string
	Literal bool
}

// FakeMultiplexer is an in-memory terminal multiplexer. NewSession creates
// the socket file, as a real server does, and Shutdown removes it.
type FakeMultiplexer struct {
	mu       sync.Mutex
	sessions map[string]string // socket -> session name
	windows  map[string][]string

	Sent     []SentKeys
	Attached []string
	// Output is returned by CapturePane.
	Output string
	// SendErr, when set, is returned by SendKeys for the given target.
	SendErr map[string]error
	// NoSocket suppresses socket file creation to simulate a server that
	// never comes up.
	NoSocket bool
}

// NewFakeMultiplexer returns an empty FakeMultiplexer.
func NewFakeMultiplexer() *FakeMultiplexer {
	return &FakeMultiplexer{
		sessions: make(map[string]string),
		windows:  make(map[string][]string),
		SendErr:  make(map[string]error),
	}
}

// NewSession registers a session and creates its socket file.
func (f *FakeMultiplexer) NewSession(ctx context.Context, socket, name, dir, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[socket]; ok {
		return fmt.Errorf("duplicate session: %s", name)
	}
	f.sessions[socket] = name
	f.windows[socket] = []string{"main"}
	if f.NoSocket {
		return nil
	}
	return os.WriteFile(socket, nil, 0600)
}

// NewWindow records a window.
func (f *FakeMultiplexer) NewWindow(ctx context.Context, socket, session, window, dir, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[socket]; !ok {
		return fmt.Errorf("no server running on %s", socket)
	}
	f.windows[socket] = append(f.windows[socket], window)
	return nil
}

// Windows returns the windows created on socket.
func (f *FakeMultiplexer) Windows(socket string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.windows[socket]...)
}

// HasSession reports whether name runs on socket.
func (f *FakeMultiplexer) HasSession(ctx context.Context, socket, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[socket] == name, nil
}

// SendKeys records the keys.
func (f *FakeMultiplexer) SendKeys(ctx context.Context, socket, target, text string, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SendErr[target]; err != nil {
		return err
	}
	f.Sent = append(f.Sent, SentKeys{Socket: socket, Target: target, Text: text, Literal: literal})
	return nil
}

// CapturePane returns Output.
func (f *FakeMultiplexer) CapturePane(ctx context.Context, socket, target string, history int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Output, nil
}

// Attach records the attach target.
func (f *FakeMultiplexer) Attach(ctx context.Context, socket, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attached = append(f.Attached, target)
	return nil
}

// Shutdown forgets the session and removes its socket file.
func (f *FakeMultiplexer) Shutdown(ctx context.Context, socket, session string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, socket)
	delete(f.windows, socket)
	if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SentTo returns the literal texts sent to target.
func (f *FakeMultiplexer) SentTo(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, s := range f.Sent {
		if s.Target == target && s.Literal {
			texts = append(texts, s.Text)
		}
	}
	return texts
}
