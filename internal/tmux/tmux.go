// Package tmux drives the terminal multiplexer behind each worker.
//
// Every worker runs its own tmux server addressed by an explicit socket
// path (tmux -S <path>), so a crashed or killed worker never affects the
// others and the socket file doubles as the worker's control address.
// A worker session has two windows: "main" runs the primary interactive
// process and "shell" an auxiliary shell.
package tmux

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/util"
)

// Reserved window names. Window 0 is main, window 1 is shell.
const (
	WindowMain  = "main"
	WindowShell = "shell"
)

// Client runs tmux commands through a util.Runner.
type Client struct {
	binary string
	runner util.Runner
	width  int
	height int
}

// Option configures a Client.
type Option func(*Client)

// WithSize sets the size of new sessions.
func WithSize(width, height int) Option {
	return func(c *Client) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// NewClient returns a Client invoking binary (default "tmux").
func NewClient(binary string, runner util.Runner, opts ...Option) *Client {
	if binary == "" {
		binary = "tmux"
	}
	if runner == nil {
		runner = &util.ExecRunner{}
	}
	c := &Client{binary: binary, runner: runner, width: 200, height: 50}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CommandArgs returns the full tmux argument list for socket.
func CommandArgs(socket string, args ...string) []string {
	return append([]string{"-S", socket}, args...)
}

// Target addresses a window of a session.
func Target(session, window string) string {
	return session + ":" + window
}

func (c *Client) run(ctx context.Context, socket string, args ...string) (string, error) {
	return c.runner.Run(ctx, c.binary, CommandArgs(socket, args...)...)
}

// NewSession starts a detached session whose first window is named main and
// runs command in dir. tmux creates the socket file.
func (c *Client) NewSession(ctx context.Context, socket, name, dir, command string) error {
	args := []string{"new-session", "-d", "-s", name, "-n", WindowMain,
		"-x", strconv.Itoa(c.width), "-y", strconv.Itoa(c.height)}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(ctx, socket, args...); err != nil {
		return fmt.Errorf("tmux new-session %s: %w", name, err)
	}
	return nil
}

// NewWindow adds a named window to session running command.
func (c *Client) NewWindow(ctx context.Context, socket, session, window, dir, command string) error {
	args := []string{"new-window", "-d", "-t", session + ":", "-n", window}
	if dir != "" {
		args = append(args, "-c", dir)
	}
	if command != "" {
		args = append(args, command)
	}
	if _, err := c.run(ctx, socket, args...); err != nil {
		return fmt.Errorf("tmux new-window %s: %w", Target(session, window), err)
	}
	return nil
}

// SendKeys types text into target. With literal set, text is sent as-is
// (send-keys -l); otherwise it is interpreted as tmux key names.
func (c *Client) SendKeys(ctx context.Context, socket, target, text string, literal bool) error {
	args := []string{"send-keys", "-t", target}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, text)
	if _, err := c.run(ctx, socket, args...); err != nil {
		return fmt.Errorf("tmux send-keys %s: %w", target, err)
	}
	return nil
}

// CapturePane returns the visible contents of target, plus up to history
// lines of scrollback when history is positive.
func (c *Client) CapturePane(ctx context.Context, socket, target string, history int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", target}
	if history > 0 {
		args = append(args, "-S", "-"+strconv.Itoa(history))
	}
	out, err := c.run(ctx, socket, args...)
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane %s: %w", target, err)
	}
	return out, nil
}

// ListSessions returns the session names served on socket. A socket with no
// server behind it yields no sessions.
func (c *Client) ListSessions(ctx context.Context, socket string) ([]string, error) {
	out, err := c.run(ctx, socket, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if isNoServer(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// HasSession reports whether name is served on socket.
func (c *Client) HasSession(ctx context.Context, socket, name string) (bool, error) {
	_, err := c.run(ctx, socket, "has-session", "-t", name)
	if err == nil {
		return true, nil
	}
	if util.IsExitCode(err, 1) {
		return false, nil
	}
	return false, fmt.Errorf("tmux has-session %s: %w", name, err)
}

// KillSession ends a session. A missing session or server is not an error.
func (c *Client) KillSession(ctx context.Context, socket, name string) error {
	if _, err := c.run(ctx, socket, "kill-session", "-t", name); err != nil && !isNoServer(err) && !util.IsExitCode(err, 1) {
		return fmt.Errorf("tmux kill-session %s: %w", name, err)
	}
	return nil
}

// KillServer terminates the server listening on socket and every session in
// it. A missing server is not an error.
func (c *Client) KillServer(ctx context.Context, socket string) error {
	if _, err := c.run(ctx, socket, "kill-server"); err != nil && !isNoServer(err) && !util.IsExitCode(err, 1) {
		return fmt.Errorf("tmux kill-server: %w", err)
	}
	return nil
}

// Attach hands the calling terminal to target until the user detaches.
func (c *Client) Attach(ctx context.Context, socket, target string) error {
	return c.runner.RunInteractive(ctx, c.binary, CommandArgs(socket, "attach-session", "-t", target)...)
}

func isNoServer(err error) bool {
	var ce *util.CommandError
	if !errors.As(err, &ce) {
		return false
	}
	msg := strings.ToLower(ce.Stderr)
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to") ||
		strings.Contains(msg, "no such file or directory")
}
