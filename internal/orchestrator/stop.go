package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/session"
	"github.com/hal9000-dev/hal9000/internal/slot"
	"github.com/hal9000-dev/hal9000/internal/state"
)

// Stop ends a worker: its terminal session, its container and its control
// socket. raw may be the bare session name or the name qualified by its
// prefix, as list shows it. The registry entry is removed (history records
// it as stopped); the worktree is kept. A session whose container is
// already gone is stopped all the same and audited as orphaned.
func (o *Orchestrator) Stop(ctx context.Context, raw string) (*session.Session, error) {
	name, err := o.registry.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	var stopped *session.Session
	err = o.store.WithLease(ctx, sessionLockName(name), func() error {
		s, err := o.registry.Get(ctx, name)
		if err != nil {
			return err
		}
		log := o.logger.WithSession(string(name))

		previous := s.Status
		if running, err := container.Snapshot(ctx, o.runtime); err != nil {
			log.Warn("could not list containers", "error", err.Error())
		} else {
			previous = session.Reconcile([]*session.Session{s}, running)[0].Status
		}
		if previous == session.StatusOrphaned {
			log.Warn("stopping orphaned session", "container", s.Container, "recorded_status", string(s.Status))
		}

		if err := o.teardown(ctx, s); err != nil {
			return errors.NewSessionError("failed to stop session", err).
				WithSession(string(name)).WithContainer(s.Container)
		}
		if err := o.registry.Remove(ctx, name); err != nil {
			return err
		}

		o.audit.Record(audit.EventSessionStop, string(name),
			audit.KV("container", s.Container),
			audit.KV("slot", s.Slot),
			audit.KV("previous_status", string(previous)))
		log.Info("session stopped", "container", s.Container)

		stopped = s
		stopped.Status = session.StatusStopped
		return nil
	})
	return stopped, err
}

// CleanupOptions scopes Cleanup.
type CleanupOptions struct {
	// Prefix limits cleanup to one prefix; empty means every session.
	Prefix string
	// Force also removes unregistered containers whose names follow the
	// <prefix>-<name>-slot<N> pattern of the configured (or given) prefix.
	Force bool
}

// CleanupReport lists what Cleanup removed.
type CleanupReport struct {
	Sessions   []session.Name
	Worktrees  []string
	Sockets    []string
	Containers []string
}

// Empty reports whether nothing was removed.
func (r *CleanupReport) Empty() bool {
	return len(r.Sessions)+len(r.Worktrees)+len(r.Sockets)+len(r.Containers) == 0
}

// Cleanup removes every session in scope together with its runtime
// resources and managed worktree, then removes control sockets that no
// registered session owns. It keeps going after individual failures and
// returns them joined.
func (o *Orchestrator) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupReport, error) {
	if opts.Prefix != "" {
		if _, err := o.prefixOrDefault(opts.Prefix); err != nil {
			return nil, err
		}
	}

	report := &CleanupReport{}
	var errs []error

	sessions, err := o.registry.List(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if err := o.cleanupSession(ctx, s, report); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s", s.Name))
		}
	}

	if err := o.cleanupSockets(ctx, report); err != nil {
		errs = append(errs, err)
	}

	if opts.Force {
		if err := o.cleanupContainers(ctx, opts.Prefix, report); err != nil {
			errs = append(errs, err)
		}
	}

	resource := opts.Prefix
	if resource == "" {
		resource = "all"
	}
	o.audit.Record(audit.EventCleanup, resource,
		audit.KV("sessions", len(report.Sessions)),
		audit.KV("worktrees", len(report.Worktrees)),
		audit.KV("sockets", len(report.Sockets)),
		audit.KV("containers", len(report.Containers)),
		audit.KV("errors", len(errs)))

	return report, errors.Join(errs...)
}

func (o *Orchestrator) cleanupSession(ctx context.Context, s *session.Session, report *CleanupReport) error {
	return o.store.WithLease(ctx, sessionLockName(s.Name), func() error {
		if err := o.teardown(ctx, s); err != nil {
			return err
		}

		if s.ManagedWorktree && s.Directory != "" {
			if err := o.removeWorktree(ctx, s); err != nil {
				return err
			}
			report.Worktrees = append(report.Worktrees, s.Directory)
		}

		if err := o.registry.Remove(ctx, s.Name); err != nil && !errors.Is(err, session.ErrNotFound) {
			return err
		}
		report.Sessions = append(report.Sessions, s.Name)
		o.logger.Info("session cleaned up", "session", string(s.Name))
		return nil
	})
}

func (o *Orchestrator) removeWorktree(ctx context.Context, s *session.Session) error {
	if _, err := os.Stat(s.Directory); os.IsNotExist(err) {
		return nil
	}
	if s.Project != "" {
		if wt, err := o.worktrees(s.Project); err == nil {
			if err := wt.Remove(ctx, s.Directory); err == nil {
				return nil
			}
		}
	}
	// Remove falls back to deleting the directory itself; do the same when
	// the repository is gone.
	if err := os.RemoveAll(s.Directory); err != nil {
		return fmt.Errorf("failed to remove worktree %s: %w", s.Directory, err)
	}
	return nil
}

// cleanupSockets removes socket files whose session is not registered.
func (o *Orchestrator) cleanupSockets(ctx context.Context, report *CleanupReport) error {
	keys, err := o.store.List(ctx, state.SocketsDir, state.SocketSuffix)
	if err != nil {
		return err
	}
	known, err := o.registry.Names(ctx)
	if err != nil {
		return err
	}
	registered := make(map[string]bool, len(known))
	for _, n := range known {
		registered[n] = true
	}

	var errs []error
	for _, key := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(key, state.SocketsDir+"/"), state.SocketSuffix)
		if registered[name] {
			continue
		}
		path := o.store.SocketPath(name)
		_ = o.mux.Shutdown(ctx, path, name, 0)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("failed to remove socket %s: %w", path, err))
			continue
		}
		report.Sockets = append(report.Sockets, path)
	}
	return errors.Join(errs...)
}

// cleanupContainers removes running containers named like workers of
// prefix that have no registry entry.
func (o *Orchestrator) cleanupContainers(ctx context.Context, prefix string, report *CleanupReport) error {
	prefix, err := o.prefixOrDefault(prefix)
	if err != nil {
		return err
	}
	names, err := slot.Running(ctx, o.runtime, prefix)
	if err != nil {
		return err
	}

	owned := make(map[string]bool)
	sessions, err := o.registry.List(ctx, "")
	if err != nil {
		return err
	}
	for _, s := range sessions {
		owned[s.Container] = true
	}

	var errs []error
	for _, name := range names {
		if owned[name] {
			continue
		}
		if err := o.stopContainer(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Containers = append(report.Containers, name)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) stopContainer(ctx context.Context, name string) error {
	if err := o.runtime.Stop(ctx, name, o.cfg.Container.StopTimeout()); err != nil {
		return err
	}
	return o.runtime.Remove(ctx, name)
}
