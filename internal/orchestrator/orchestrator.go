// Package orchestrator implements the worker lifecycle: spawn, list,
// address, stop and clean up containerized worker sessions.
//
// There is no daemon. Every operation runs in the invoking process and
// coordinates with concurrent invocations only through the state root:
// filesystem locks, registry files, control sockets and the audit log.
// Orphaned workers (container gone, registry entry left behind) are
// detected lazily by List and handled by Stop and Cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/config"
	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/lock"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/remote"
	"github.com/hal9000-dev/hal9000/internal/session"
	"github.com/hal9000-dev/hal9000/internal/slot"
	"github.com/hal9000-dev/hal9000/internal/state"
	"github.com/hal9000-dev/hal9000/internal/tmux"
	"github.com/hal9000-dev/hal9000/internal/util"
	"github.com/hal9000-dev/hal9000/internal/worktree"
)

// Multiplexer is the terminal multiplexer surface the orchestrator drives.
// *tmux.Client implements it.
type Multiplexer interface {
	remote.Multiplexer
	NewSession(ctx context.Context, socket, name, dir, command string) error
	NewWindow(ctx context.Context, socket, session, window, dir, command string) error
	HasSession(ctx context.Context, socket, name string) (bool, error)
	Shutdown(ctx context.Context, socket, session string, gracefulTimeout time.Duration) error
}

var _ Multiplexer = (*tmux.Client)(nil)

// Worktrees creates and removes managed git worktrees for one repository.
// *worktree.Manager implements it.
type Worktrees interface {
	Root() string
	PathFor(name string) string
	Create(ctx context.Context, path, branch string) error
	Remove(ctx context.Context, path string) error
}

var _ Worktrees = (*worktree.Manager)(nil)

// Deps are the external collaborators of an Orchestrator. Nil fields are
// replaced with implementations that shell out to the configured binaries.
type Deps struct {
	Runtime   container.Runtime
	Mux       Multiplexer
	Runner    util.Runner
	Worktrees func(dir string) (Worktrees, error)
	Logger    *logging.Logger
	Now       func() time.Time
}

// Orchestrator coordinates worker sessions under one state root.
type Orchestrator struct {
	cfg       *config.Config
	store     *state.Store
	registry  *session.Registry
	slots     *slot.Allocator
	runtime   container.Runtime
	mux       Multiplexer
	remote    *remote.Controller
	audit     *audit.Log
	worktrees func(dir string) (Worktrees, error)
	logger    *logging.Logger
}

// New wires an Orchestrator from cfg and deps and creates the state root.
func New(cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	runner := deps.Runner
	if runner == nil {
		runner = &util.ExecRunner{}
	}

	root := cfg.State.HomeDir()
	locks := lock.NewManager(filepath.Join(root, state.LocksDir),
		lock.WithRetryInterval(cfg.Lock.RetryInterval()),
		lock.WithLogger(logger))
	store := state.New(root, state.WithLockManager(locks), state.WithLeaseWait(cfg.Lock.LockMaxWait()))
	if err := store.Ensure(); err != nil {
		return nil, err
	}

	rt := deps.Runtime
	if rt == nil {
		rt = container.NewDockerRuntime(cfg.Container.Runtime, runner)
	}
	mux := deps.Mux
	if mux == nil {
		mux = tmux.NewClient(cfg.Tmux.Binary, runner, tmux.WithSize(cfg.Tmux.Width, cfg.Tmux.Height))
	}
	wt := deps.Worktrees
	if wt == nil {
		wt = func(dir string) (Worktrees, error) {
			return worktree.New(dir, runner)
		}
	}

	var slotLocks *lock.Manager
	if cfg.Slots.Locked {
		slotLocks = locks
	}

	auditOpts := []audit.Option{
		audit.WithMaxSize(cfg.Audit.MaxSizeBytes),
		audit.WithMaxFiles(cfg.Audit.MaxFiles),
		audit.WithLogger(logger),
	}
	if deps.Now != nil {
		auditOpts = append(auditOpts, audit.WithClock(deps.Now))
	}

	registry := session.NewRegistry(store, logger)
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		registry: registry,
		slots:    slot.NewAllocator(rt, slotLocks, cfg.Lock.LockMaxWait(), logger),
		runtime:  rt,
		mux:      mux,
		remote: remote.New(store, registry, mux, rt,
			remote.WithParallelism(cfg.Broadcast.Parallelism),
			remote.WithLogger(logger)),
		audit:     audit.New(filepath.Join(store.Dir(state.LogsDir), audit.FileName), auditOpts...),
		worktrees: wt,
		logger:    logger,
	}, nil
}

// Store returns the state store.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Registry returns the session registry.
func (o *Orchestrator) Registry() *session.Registry { return o.registry }

// Audit returns the audit log.
func (o *Orchestrator) Audit() *audit.Log { return o.audit }

// Remote returns the remote controller.
func (o *Orchestrator) Remote() *remote.Controller { return o.remote }

// sessionLockName serializes spawn and stop of one session name.
func sessionLockName(name session.Name) string {
	return "session-" + string(name)
}

func (o *Orchestrator) prefixOrDefault(prefix string) (string, error) {
	if prefix == "" {
		prefix = o.cfg.Session.Prefix
	}
	if !config.ValidPrefix(prefix) {
		return "", errors.NewValidationError("prefix must be lowercase alphanumeric and may contain '-' and '_'").
			WithField("prefix").WithValue(prefix)
	}
	return prefix, nil
}

// Locks lists held locks.
func (o *Orchestrator) Locks() ([]lock.Info, error) {
	return o.store.Locks().List()
}

// ClearLock force-removes a lock left behind by a crashed process.
func (o *Orchestrator) ClearLock(name string) (bool, error) {
	removed, err := o.store.Locks().ForceRelease(name)
	if err != nil {
		return false, err
	}
	if removed {
		o.logger.Warn("lock force-cleared", "lock", name)
		o.audit.Record(audit.EventLockClear, name, audit.KV("path", o.store.Locks().Path(name)))
	}
	return removed, nil
}

func shellCommand(runtime, containerName, command string) string {
	return fmt.Sprintf("%s exec -it %s %s", runtime, containerName, command)
}
