package tmux

import (
	"context"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// DefaultGracefulStopTimeout is how long Shutdown waits after Ctrl+C before
// killing the session.
const DefaultGracefulStopTimeout = 500 * time.Millisecond

// PanePID returns the PID of the process running in target, or 0 when it
// cannot be determined.
func (c *Client) PanePID(ctx context.Context, socket, target string) int {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out, err := c.run(ctx, socket, "display-message", "-t", target, "-p", "#{pane_pid}")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0
	}
	return pid
}

// IsProcessAlive checks if a process with the given PID exists.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// WaitForProcessExit polls until pid exits or timeout elapses. It reports
// whether the process is gone.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsProcessAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsProcessAlive(pid)
		case <-ticker.C:
			if !IsProcessAlive(pid) {
				return true
			}
		}
	}
}

// Shutdown stops a worker session: Ctrl+C to the main window, a bounded
// wait for its process to exit, then kill-session and kill-server. A pane
// process that survives the server is sent SIGKILL. Every step tolerates a
// session or server that is already gone.
func (c *Client) Shutdown(ctx context.Context, socket, session string, gracefulTimeout time.Duration) error {
	target := Target(session, WindowMain)
	pid := c.PanePID(ctx, socket, target)

	_ = c.SendKeys(ctx, socket, target, "C-c", false)
	WaitForProcessExit(pid, gracefulTimeout)

	if err := c.KillSession(ctx, socket, session); err != nil {
		return err
	}
	if err := c.KillServer(ctx, socket); err != nil {
		return err
	}

	if IsProcessAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}
