// Package container starts, lists and stops worker containers through a
// container runtime CLI. Only the narrow surface the orchestrator needs is
// exposed: list running names, run detached, stop, remove, and shared
// volume management.
package container

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/util"
)

// Labels set on containers started by hal9000.
const (
	// LabelSession carries the session name.
	LabelSession = "dev.hal9000.session"
	// LabelPrefix carries the prefix the slot was allocated under.
	LabelPrefix = "dev.hal9000.prefix"
)

// Lister enumerates running containers by name.
type Lister interface {
	ListRunning(ctx context.Context) ([]string, error)
}

// LabelLister is implemented by listers that can also report a label of
// each running container.
type LabelLister interface {
	// RunningLabels maps every running container to the value of label
	// key, empty when the container does not carry it.
	RunningLabels(ctx context.Context, key string) (map[string]string, error)
}

// Runtime is the subset of a container runtime hal9000 depends on.
type Runtime interface {
	Lister

	// Run starts a detached container and returns its id.
	Run(ctx context.Context, opts RunOptions) (string, error)

	// Stop stops a container. Stopping a missing container is not an error.
	Stop(ctx context.Context, name string, timeout time.Duration) error

	// Remove deletes a container. Removing a missing container is not an error.
	Remove(ctx context.Context, name string) error

	VolumeExists(ctx context.Context, name string) (bool, error)
	CreateVolume(ctx context.Context, name string) error
}

// Mount binds a host path or named volume into the container.
type Mount struct {
	Source   string // host path or volume name
	Target   string // absolute path inside the container
	ReadOnly bool
}

// String renders the mount in -v syntax.
func (m Mount) String() string {
	s := m.Source + ":" + m.Target
	if m.ReadOnly {
		s += ":ro"
	}
	return s
}

// ParseVolume parses a "name:/path" volume spec.
func ParseVolume(spec string) (Mount, error) {
	name, target, ok := strings.Cut(spec, ":")
	if !ok || name == "" || !strings.HasPrefix(target, "/") {
		return Mount{}, errors.NewValidationError("volume must be name:/absolute/path").
			WithField("volume").WithValue(spec)
	}
	return Mount{Source: name, Target: target}, nil
}

// RunOptions configures a detached container start.
type RunOptions struct {
	Name    string            // container name (--name)
	Image   string            // image reference
	Workdir string            // working directory inside the container (-w)
	Mounts  []Mount           // -v mounts, in order
	Env     map[string]string // -e K=V, emitted sorted by key
	Labels  map[string]string // --label K=V, emitted sorted by key
	Command []string          // command and arguments; empty keeps the image default
}

// DockerRuntime implements Runtime with the docker CLI.
type DockerRuntime struct {
	binary string
	runner util.Runner
}

// NewDockerRuntime returns a DockerRuntime invoking binary (default
// "docker") through runner.
func NewDockerRuntime(binary string, runner util.Runner) *DockerRuntime {
	if binary == "" {
		binary = "docker"
	}
	if runner == nil {
		runner = &util.ExecRunner{}
	}
	return &DockerRuntime{binary: binary, runner: runner}
}

// ListRunning returns the names of running containers.
func (d *DockerRuntime) ListRunning(ctx context.Context) ([]string, error) {
	out, err := d.runner.Run(ctx, d.binary, "ps", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	return splitLines(out), nil
}

// RunningLabels returns the value of label key for each running container.
func (d *DockerRuntime) RunningLabels(ctx context.Context, key string) (map[string]string, error) {
	out, err := d.runner.Run(ctx, d.binary, "ps", "--format", fmt.Sprintf("{{.Names}}\t{{.Label %q}}", key))
	if err != nil {
		return nil, fmt.Errorf("failed to list container labels: %w", err)
	}
	labels := make(map[string]string)
	for _, line := range splitLines(out) {
		name, value, _ := strings.Cut(line, "\t")
		labels[name] = strings.TrimSpace(value)
	}
	return labels, nil
}

func runArgs(opts RunOptions) []string {
	args := []string{"run", "-d", "--init", "--name", opts.Name}
	for _, k := range sortedKeys(opts.Labels) {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}
	for _, m := range opts.Mounts {
		args = append(args, "-v", m.String())
	}
	if opts.Workdir != "" {
		args = append(args, "-w", opts.Workdir)
	}
	for _, k := range sortedKeys(opts.Env) {
		args = append(args, "-e", k+"="+opts.Env[k])
	}
	args = append(args, opts.Image)
	args = append(args, opts.Command...)
	return args
}

// Run starts a detached container.
func (d *DockerRuntime) Run(ctx context.Context, opts RunOptions) (string, error) {
	if opts.Name == "" || opts.Image == "" {
		return "", errors.NewValidationError("container name and image are required")
	}
	id, err := d.runner.Run(ctx, d.binary, runArgs(opts)...)
	if err != nil {
		return "", errors.NewSessionError("failed to start container", err).WithContainer(opts.Name)
	}
	return id, nil
}

// Stop stops a container, giving it timeout to exit.
func (d *DockerRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Round(time.Second) / time.Second)
	_, err := d.runner.Run(ctx, d.binary, "stop", "-t", fmt.Sprint(secs), name)
	if err != nil && !isNoSuchContainer(err) {
		return errors.NewSessionError("failed to stop container", err).WithContainer(name)
	}
	return nil
}

// Remove force-removes a container.
func (d *DockerRuntime) Remove(ctx context.Context, name string) error {
	_, err := d.runner.Run(ctx, d.binary, "rm", "-f", name)
	if err != nil && !isNoSuchContainer(err) {
		return errors.NewSessionError("failed to remove container", err).WithContainer(name)
	}
	return nil
}

// VolumeExists reports whether a named volume exists.
func (d *DockerRuntime) VolumeExists(ctx context.Context, name string) (bool, error) {
	_, err := d.runner.Run(ctx, d.binary, "volume", "inspect", name)
	if err == nil {
		return true, nil
	}
	if util.IsExitCode(err, 1) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect volume %s: %w", name, err)
}

// CreateVolume creates a named volume.
func (d *DockerRuntime) CreateVolume(ctx context.Context, name string) error {
	if _, err := d.runner.Run(ctx, d.binary, "volume", "create", name); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// IsRunning reports whether name is among the running containers.
func IsRunning(ctx context.Context, l Lister, name string) (bool, error) {
	names, err := l.ListRunning(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == name {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot lists running containers once and returns them as a set.
func Snapshot(ctx context.Context, l Lister) (map[string]bool, error) {
	names, err := l.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func isNoSuchContainer(err error) bool {
	var ce *util.CommandError
	return errors.As(err, &ce) && strings.Contains(strings.ToLower(ce.Stderr), "no such container")
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
