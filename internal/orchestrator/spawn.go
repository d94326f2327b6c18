package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/session"
	"github.com/hal9000-dev/hal9000/internal/slot"
	"github.com/hal9000-dev/hal9000/internal/tmux"
)

// SpawnRequest describes a worker to start.
type SpawnRequest struct {
	// Name overrides the derived session name. When empty the name comes
	// from Branch, or from Project when no branch is given.
	Name string
	// Project is the directory mounted into the worker; defaults to the
	// current directory.
	Project string
	Branch  string
	Profile string
	Prefix  string
	// Worktree runs the worker in a managed git worktree of Project on
	// Branch instead of in Project itself.
	Worktree bool
	// RunID ties the worker to a squad run.
	RunID string
}

// SpawnResult reports the outcome of Spawn.
type SpawnResult struct {
	Session *session.Session
	// Skipped is set when a live session with the same name already existed.
	Skipped bool
}

type spawnPlan struct {
	name     session.Name
	prefix   string
	profile  string
	project  string
	branch   string
	worktree bool
	runID    string
}

func (o *Orchestrator) plan(req SpawnRequest) (spawnPlan, error) {
	prefix, err := o.prefixOrDefault(req.Prefix)
	if err != nil {
		return spawnPlan{}, err
	}

	profile := req.Profile
	if profile == "" {
		profile = o.cfg.Session.DefaultProfile
	}
	if _, ok := o.cfg.Container.Images[profile]; !ok {
		return spawnPlan{}, errors.NewValidationError(
			fmt.Sprintf("unknown profile, must be one of: %s", strings.Join(o.cfg.Container.Profiles(), ", "))).
			WithField("profile").WithValue(profile)
	}

	project := req.Project
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return spawnPlan{}, fmt.Errorf("failed to get current directory: %w", err)
		}
	}
	project, err = filepath.Abs(project)
	if err != nil {
		return spawnPlan{}, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if info, err := os.Stat(project); err != nil || !info.IsDir() {
		return spawnPlan{}, errors.NewValidationError("project directory does not exist").
			WithField("project").WithValue(project)
	}

	if req.Worktree && req.Branch == "" {
		return spawnPlan{}, errors.NewValidationError("a branch is required to create a worktree").WithField("branch")
	}

	var name session.Name
	switch {
	case req.Name != "":
		name, err = session.NewName(req.Name)
	case req.Branch != "":
		name, err = session.NewName(req.Branch)
	default:
		name, err = session.NameForProject(project)
	}
	if err != nil {
		return spawnPlan{}, err
	}

	return spawnPlan{
		name:     name,
		prefix:   prefix,
		profile:  profile,
		project:  project,
		branch:   req.Branch,
		worktree: req.Worktree,
		runID:    req.RunID,
	}, nil
}

// Spawn starts a worker: container, tmux session with its control socket,
// registry entry and audit record. Spawning a name that is already live is
// a no-op reported through SpawnResult.Skipped.
func (o *Orchestrator) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResult, error) {
	p, err := o.plan(req)
	if err != nil {
		return nil, err
	}
	log := o.logger.WithSession(string(p.name))

	var result *SpawnResult
	err = o.store.WithLease(ctx, sessionLockName(p.name), func() error {
		var err error
		result, err = o.spawnLocked(ctx, p, log)
		return err
	})
	return result, err
}

func (o *Orchestrator) spawnLocked(ctx context.Context, p spawnPlan, log *logging.Logger) (*SpawnResult, error) {
	existing, err := o.registry.Get(ctx, p.name)
	switch {
	case err == nil:
		if existing.Status.IsLive() {
			running, err := container.IsRunning(ctx, o.runtime, existing.Container)
			if err != nil {
				return nil, err
			}
			if running {
				log.Info("session already running, skipping", "container", existing.Container)
				return &SpawnResult{Session: existing, Skipped: true}, nil
			}
		}
		log.Info("replacing dead session", "status", string(existing.Status), "container", existing.Container)
		if err := o.teardown(ctx, existing); err != nil {
			log.Warn("teardown of dead session incomplete", "error", err.Error())
		}
		if err := o.registry.Remove(ctx, p.name); err != nil && !errors.Is(err, session.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, session.ErrNotFound):
		return nil, err
	}

	socket := o.store.SocketPath(string(p.name))
	if err := os.Remove(socket); err == nil {
		log.Warn("removed stale control socket", "socket", socket)
	}

	volumes, err := o.volumes()
	if err != nil {
		return nil, err
	}
	if err := container.EnsureVolumes(ctx, o.runtime, o.store, volumes); err != nil {
		return nil, errors.NewSessionError("failed to prepare shared volumes", err).WithSession(string(p.name))
	}

	dir := p.project
	var wt Worktrees
	createdWorktree := false
	if p.worktree {
		wt, err = o.worktrees(p.project)
		if err != nil {
			return nil, errors.NewValidationError(err.Error()).WithField("project").WithValue(p.project)
		}
		dir = wt.PathFor(string(p.name))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := wt.Create(ctx, dir, p.branch); err != nil {
				return nil, errors.NewSessionError("failed to create worktree", err).WithSession(string(p.name))
			}
			createdWorktree = true
			log.Info("created worktree", "path", dir, "branch", p.branch)
		}
	}

	var containerName string
	n, err := o.slots.Reserve(ctx, p.prefix, func(n int) error {
		containerName = slot.ContainerName(p.prefix, string(p.name), n)
		_, err := o.runtime.Run(ctx, o.runOptions(p, dir, containerName, n, volumes))
		return err
	})
	if err != nil {
		if createdWorktree {
			_ = wt.Remove(ctx, dir)
		}
		return nil, errors.NewSessionError("failed to start container", err).
			WithSession(string(p.name)).WithContainer(containerName)
	}
	log.Info("container started", "container", containerName, "slot", n)

	s := &session.Session{
		Name:            p.name,
		Prefix:          p.prefix,
		Profile:         p.profile,
		Slot:            n,
		Branch:          p.branch,
		Directory:       dir,
		ManagedWorktree: p.worktree,
		Container:       containerName,
		Socket:          socket,
		Status:          session.StatusStarting,
		RunID:           p.runID,
	}
	if p.worktree {
		s.Project = wt.Root()
	}

	fail := func(msg string, cause error) (*SpawnResult, error) {
		if err := o.teardown(ctx, s); err != nil {
			log.Warn("rollback incomplete", "error", err.Error())
		}
		if err := o.registry.Remove(ctx, s.Name); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Warn("failed to remove registry entry during rollback", "error", err.Error())
		}
		if createdWorktree {
			_ = wt.Remove(ctx, dir)
		}
		log.Error(msg, "error", cause.Error())
		return nil, errors.NewSessionError(msg, cause).WithSession(string(s.Name)).WithContainer(containerName)
	}

	if err := o.registry.Record(ctx, s); err != nil {
		return fail("failed to record session", err)
	}

	if err := o.startTerminal(ctx, s); err != nil {
		return fail("failed to start terminal session", err)
	}
	if err := waitForFile(ctx, socket, o.cfg.Tmux.StartupTimeout()); err != nil {
		return fail("control socket did not appear", err)
	}
	running, err := container.IsRunning(ctx, o.runtime, containerName)
	if err != nil {
		return fail("failed to confirm container state", err)
	}
	if !running {
		return fail("container exited during startup", errors.ErrContainerNotRunning)
	}

	s.Status = session.StatusRunning
	if err := o.registry.Record(ctx, s); err != nil {
		return fail("failed to record session", err)
	}

	details := []audit.Detail{
		audit.KV("slot", n),
		audit.KV("container", containerName),
		audit.KV("profile", p.profile),
		audit.KV("worktree", dir),
	}
	if p.branch != "" {
		details = append(details, audit.KV("branch", p.branch))
	}
	if p.runID != "" {
		details = append(details, audit.KV("run_id", p.runID))
	}
	o.audit.Record(audit.EventSessionSpawn, string(s.Name), details...)
	log.Info("session running", "container", containerName, "slot", n)

	return &SpawnResult{Session: s}, nil
}

func (o *Orchestrator) volumes() ([]container.Mount, error) {
	mounts := make([]container.Mount, 0, len(o.cfg.Container.Volumes))
	for _, spec := range o.cfg.Container.Volumes {
		m, err := container.ParseVolume(spec)
		if err != nil {
			return nil, err
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

func (o *Orchestrator) runOptions(p spawnPlan, dir, name string, n int, volumes []container.Mount) container.RunOptions {
	mounts := append([]container.Mount{{Source: dir, Target: o.cfg.Container.Workdir}}, volumes...)
	return container.RunOptions{
		Name:    name,
		Image:   o.cfg.Container.Images[p.profile],
		Workdir: o.cfg.Container.Workdir,
		Mounts:  mounts,
		Env: map[string]string{
			"HAL9000_SESSION": string(p.name),
			"HAL9000_SLOT":    strconv.Itoa(n),
			"WORKER_ID":       string(p.name),
		},
		Labels: map[string]string{
			container.LabelSession: string(p.name),
			container.LabelPrefix:  p.prefix,
		},
		// The container idles; the terminal windows exec into it.
		Command: []string{"sleep", "infinity"},
	}
}

// startTerminal creates the worker's tmux server and session: the primary
// process in the main window and a shell in the second.
func (o *Orchestrator) startTerminal(ctx context.Context, s *session.Session) error {
	rt := o.cfg.Container.Runtime
	main := shellCommand(rt, s.Container, o.cfg.Container.MainCommand)
	if err := o.mux.NewSession(ctx, s.Socket, string(s.Name), s.Directory, main); err != nil {
		return err
	}
	shell := shellCommand(rt, s.Container, o.cfg.Container.ShellCommand)
	return o.mux.NewWindow(ctx, s.Socket, string(s.Name), tmux.WindowShell, s.Directory, shell)
}

// teardown stops every runtime resource of s. Each step tolerates
// resources that are already gone, so it is safe to repeat.
func (o *Orchestrator) teardown(ctx context.Context, s *session.Session) error {
	var errs []error
	socket := s.Socket
	if socket == "" {
		socket = o.store.SocketPath(string(s.Name))
	}

	if _, err := os.Stat(socket); err == nil {
		if err := o.mux.Shutdown(ctx, socket, string(s.Name), tmux.DefaultGracefulStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("terminal: %w", err))
		}
	}
	if s.Container != "" {
		if err := o.runtime.Stop(ctx, s.Container, o.cfg.Container.StopTimeout()); err != nil {
			errs = append(errs, fmt.Errorf("stop container: %w", err))
		}
		if err := o.runtime.Remove(ctx, s.Container); err != nil {
			errs = append(errs, fmt.Errorf("remove container: %w", err))
		}
	}
	if err := os.Remove(socket); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove socket: %w", err))
	}
	return errors.Join(errs...)
}
