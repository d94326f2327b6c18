// Package remote addresses running workers through their control sockets.
//
// A worker is reached by name: the name is normalized exactly as at spawn
// time, mapped to <state root>/sockets/<name>.sock, and commands are typed
// into one of the worker's tmux windows. A socket file on disk does not
// imply the worker is alive; IsAlive cross-checks the container runtime.
package remote

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc/pool"

	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/session"
	"github.com/hal9000-dev/hal9000/internal/state"
	"github.com/hal9000-dev/hal9000/internal/tmux"
)

// DefaultParallelism bounds Broadcast fan-out when none is configured.
const DefaultParallelism = 4

// Multiplexer is the subset of the tmux client used for remote control.
type Multiplexer interface {
	SendKeys(ctx context.Context, socket, target, text string, literal bool) error
	CapturePane(ctx context.Context, socket, target string, history int) (string, error)
	Attach(ctx context.Context, socket, target string) error
}

// Window maps a window argument to a tmux window name. "0" and "main"
// select the primary process, "1" and "shell" the auxiliary shell; an
// empty value means main. Anything else is passed through as a raw index.
func Window(w string) string {
	switch w {
	case "", "0", tmux.WindowMain:
		return tmux.WindowMain
	case "1", tmux.WindowShell:
		return tmux.WindowShell
	default:
		return w
	}
}

// Liveness is the result of IsAlive. A socket without a running container
// is reported as a warning, not an error.
type Liveness struct {
	Name      session.Name
	Socket    string
	Container string
	Alive     bool
	Warning   string
}

// Controller sends commands to workers.
type Controller struct {
	store       *state.Store
	registry    *session.Registry
	mux         Multiplexer
	lister      container.Lister
	parallelism int
	logger      *logging.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithParallelism sets the default Broadcast fan-out.
func WithParallelism(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.parallelism = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Controller.
func New(store *state.Store, registry *session.Registry, mux Multiplexer, lister container.Lister, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		registry:    registry,
		mux:         mux,
		lister:      lister,
		parallelism: DefaultParallelism,
		logger:      logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveSocket normalizes raw and returns the path of an existing control
// socket. raw may also be a registered name qualified by its container
// prefix. A missing socket yields a resolution error listing the known
// sessions.
func (c *Controller) ResolveSocket(ctx context.Context, raw string) (session.Name, string, error) {
	name, err := session.NewName(raw)
	if err != nil {
		return "", "", err
	}
	socket := c.store.SocketPath(string(name))
	_, err = os.Stat(socket)
	if err == nil {
		return name, socket, nil
	}
	if !os.IsNotExist(err) {
		return name, "", fmt.Errorf("failed to stat socket %s: %w", socket, err)
	}

	if resolved, rerr := c.registry.Resolve(ctx, raw); rerr == nil && resolved != name {
		alt := c.store.SocketPath(string(resolved))
		if _, err := os.Stat(alt); err == nil {
			return resolved, alt, nil
		}
	}
	known, _ := c.registry.Names(ctx)
	return name, "", errors.NewResolutionError("socket", string(name)).WithKnown(known)
}

// IsAlive reports whether the named worker has both a control socket and a
// running container.
func (c *Controller) IsAlive(ctx context.Context, raw string) (Liveness, error) {
	name, socket, err := c.ResolveSocket(ctx, raw)
	if err != nil {
		return Liveness{}, err
	}
	live := Liveness{Name: name, Socket: socket}

	s, err := c.registry.Get(ctx, name)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			live.Warning = "control socket exists but the session is not registered; run cleanup to remove it"
			return live, nil
		}
		return Liveness{}, err
	}
	live.Container = s.Container

	running, err := container.IsRunning(ctx, c.lister, s.Container)
	if err != nil {
		return Liveness{}, err
	}
	if !running {
		live.Warning = fmt.Sprintf("control socket exists but container %s is not running", s.Container)
		return live, nil
	}
	live.Alive = true
	return live, nil
}

// Send types command into a window of the named worker and presses Enter.
// The command is sent literally so tmux key names in it are not expanded.
// A worker whose container is gone still receives the keys; the returned
// Liveness carries the warning.
func (c *Controller) Send(ctx context.Context, raw, window, command string) (Liveness, error) {
	live, err := c.check(ctx, raw)
	if err != nil {
		return Liveness{}, err
	}
	return live, c.send(ctx, live.Name, live.Socket, window, command)
}

// check resolves raw through IsAlive and logs any liveness warning.
func (c *Controller) check(ctx context.Context, raw string) (Liveness, error) {
	live, err := c.IsAlive(ctx, raw)
	if err != nil {
		return Liveness{}, err
	}
	if live.Warning != "" {
		c.logger.Warn("worker is not alive", "session", string(live.Name), "container", live.Container, "warning", live.Warning)
	}
	return live, nil
}

func (c *Controller) send(ctx context.Context, name session.Name, socket, window, command string) error {
	target := tmux.Target(string(name), Window(window))
	if err := c.mux.SendKeys(ctx, socket, target, command, true); err != nil {
		return errors.NewSessionError("failed to send command", err).WithSession(string(name))
	}
	if err := c.mux.SendKeys(ctx, socket, target, "Enter", false); err != nil {
		return errors.NewSessionError("failed to send Enter", err).WithSession(string(name))
	}
	c.logger.Debug("sent command", "session", string(name), "window", Window(window))
	return nil
}

// Capture returns the visible content of a window of the named worker,
// plus history lines of scrollback when history is positive.
func (c *Controller) Capture(ctx context.Context, raw, window string, history int) (string, error) {
	name, socket, err := c.ResolveSocket(ctx, raw)
	if err != nil {
		return "", err
	}
	out, err := c.mux.CapturePane(ctx, socket, tmux.Target(string(name), Window(window)), history)
	if err != nil {
		return "", errors.NewSessionError("failed to capture pane", err).WithSession(string(name))
	}
	return out, nil
}

// Attach hands the caller's terminal to the named worker's tmux session.
// The caller is responsible for checking that stdin is a terminal. The
// Liveness is returned even when attaching fails so a stale worker can be
// explained.
func (c *Controller) Attach(ctx context.Context, raw, window string) (Liveness, error) {
	live, err := c.check(ctx, raw)
	if err != nil {
		return Liveness{}, err
	}
	return live, c.mux.Attach(ctx, live.Socket, tmux.Target(string(live.Name), Window(window)))
}

// BroadcastOptions selects Broadcast targets.
type BroadcastOptions struct {
	// Prefix restricts targets to sessions with this container prefix.
	Prefix string
	// Match is an optional glob matched against session names.
	Match string
	// Window defaults to main.
	Window string
	// Parallelism overrides the controller default when positive.
	Parallelism int
}

// Result is the outcome of delivering a broadcast to one target.
type Result struct {
	Session  session.Name
	Err      error
	Warning  string
	Duration time.Duration
}

// OK reports whether delivery succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Targets returns the registered sessions selected by opts.
func (c *Controller) Targets(ctx context.Context, opts BroadcastOptions) ([]*session.Session, error) {
	var matcher glob.Glob
	if opts.Match != "" {
		g, err := glob.Compile(opts.Match)
		if err != nil {
			return nil, errors.NewValidationError("invalid match pattern").WithField("match").WithValue(opts.Match)
		}
		matcher = g
	}

	sessions, err := c.registry.List(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	var targets []*session.Session
	for _, s := range sessions {
		if s.Status == session.StatusStopped {
			continue
		}
		if matcher != nil && !matcher.Match(string(s.Name)) {
			continue
		}
		targets = append(targets, s)
	}
	return targets, nil
}

// Broadcast sends command to every selected session with bounded
// parallelism. One result is returned per target in target order; a
// failing target never prevents delivery to the others. When any target
// fails the error is a *errors.BroadcastError.
func (c *Controller) Broadcast(ctx context.Context, command string, opts BroadcastOptions) ([]Result, error) {
	targets, err := c.Targets(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		known, _ := c.registry.Names(ctx)
		return nil, errors.NewResolutionError("session", describe(opts)).WithKnown(known)
	}

	n := opts.Parallelism
	if n <= 0 {
		n = c.parallelism
	}

	results := make([]Result, len(targets))
	p := pool.New().WithMaxGoroutines(n)
	for i, s := range targets {
		p.Go(func() {
			start := time.Now()
			warning, err := c.deliver(ctx, s.Name, opts.Window, command)
			results[i] = Result{Session: s.Name, Err: err, Warning: warning, Duration: time.Since(start)}
		})
	}
	p.Wait()

	failures := make(map[string]error)
	for _, r := range results {
		if r.Err != nil {
			failures[string(r.Session)] = r.Err
			c.logger.Warn("broadcast delivery failed", "session", string(r.Session), "error", r.Err.Error())
		}
	}
	if len(failures) > 0 {
		return results, errors.NewBroadcastError(failures, len(results))
	}
	return results, nil
}

func (c *Controller) deliver(ctx context.Context, name session.Name, window, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	live, err := c.Send(ctx, string(name), window, command)
	return live.Warning, err
}

func describe(opts BroadcastOptions) string {
	switch {
	case opts.Prefix != "" && opts.Match != "":
		return fmt.Sprintf("%s (prefix %s)", opts.Match, opts.Prefix)
	case opts.Match != "":
		return opts.Match
	case opts.Prefix != "":
		return "prefix " + opts.Prefix
	default:
		return "any"
	}
}
