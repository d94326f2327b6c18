// Package lock provides named, cross-process mutual exclusion built on
// atomic directory creation.
//
// A lock named "registry" is held by whoever created <dir>/registry.lock.
// The directory contains an informational owner file for operators; it is
// never consulted to decide ownership. A crashed holder leaves the
// directory behind, which ForceRelease (hal9000 lock clear) removes.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
)

const (
	// Suffix is appended to lock names to form the directory name.
	Suffix = ".lock"

	// OwnerFileName is the informational owner record inside a lock directory.
	OwnerFileName = "owner"

	// DefaultRetryInterval is the fixed delay between acquisition attempts.
	DefaultRetryInterval = time.Second
)

// Owner describes the process that created a lock directory.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Info describes a currently held lock.
type Info struct {
	Name  string
	Path  string
	Owner *Owner // nil when the owner file is missing or unreadable
}

// Manager creates and removes lock directories under a single root.
type Manager struct {
	dir           string
	retryInterval time.Duration
	logger        *logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetryInterval overrides DefaultRetryInterval.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

// WithLogger attaches a logger. A nil logger is ignored.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns a Manager rooted at dir. The directory is created on
// first acquisition.
func NewManager(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:           dir,
		retryInterval: DefaultRetryInterval,
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the directory holding lock directories.
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns the lock directory path for name.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, name+Suffix)
}

// Lease is a held lock. Release it exactly once; further calls are no-ops.
type Lease struct {
	name    string
	path    string
	manager *Manager
}

// Name returns the lock name.
func (l *Lease) Name() string { return l.name }

// Path returns the lock directory path.
func (l *Lease) Path() string { return l.path }

// Release removes the lock directory. Releasing an already-removed lock is
// not an error.
func (l *Lease) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := l.manager.Release(l.path)
	l.path = ""
	return err
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return errors.NewValidationError("invalid lock name").WithField("lock").WithValue(name)
	}
	return nil
}

// TryAcquire makes a single attempt. It returns (nil, nil) when the lock is
// held by someone else.
func (m *Manager) TryAcquire(name string) (*Lease, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := m.Path(name)
	if err := os.Mkdir(path, 0755); err != nil {
		if os.IsExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to create lock %s: %w", name, err)
	}

	m.writeOwner(path)
	m.logger.Debug("lock acquired", "lock", name)
	return &Lease{name: name, path: path, manager: m}, nil
}

// Acquire retries TryAcquire at the retry interval until maxWait elapses,
// then returns a *errors.LockTimeoutError naming the directory to remove.
// Cancelling ctx aborts the wait.
func (m *Manager) Acquire(ctx context.Context, name string, maxWait time.Duration) (*Lease, error) {
	start := time.Now()
	deadline := start.Add(maxWait)

	for {
		lease, err := m.TryAcquire(name)
		if err != nil || lease != nil {
			return lease, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			waited := time.Since(start).Round(time.Second)
			m.logger.Error("lock wait timed out", "lock", name, "waited", waited.String())
			return nil, errors.NewLockTimeoutError(name, m.Path(name), waited)
		}

		m.logger.Debug("lock busy, retrying", "lock", name)
		wait := min(m.retryInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WithLock runs fn while holding the named lock.
func (m *Manager) WithLock(ctx context.Context, name string, maxWait time.Duration, fn func() error) error {
	lease, err := m.Acquire(ctx, name, maxWait)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			m.logger.Warn("failed to release lock", "lock", name, "error", rerr.Error())
		}
	}()
	return fn()
}

// Release removes the lock directory at path. A missing directory is not an
// error.
func (m *Manager) Release(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", path, err)
	}
	m.logger.Debug("lock released", "path", path)
	return nil
}

// ForceRelease removes a lock regardless of who holds it. It reports
// whether a lock directory existed.
func (m *Manager) ForceRelease(name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	path := m.Path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := m.Release(path); err != nil {
		return false, err
	}
	m.logger.Warn("lock force-released", "lock", name)
	return true, nil
}

// Held reports whether the named lock directory exists.
func (m *Manager) Held(name string) bool {
	info, err := os.Stat(m.Path(name))
	return err == nil && info.IsDir()
}

// List returns the currently held locks sorted by name.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}

	var locks []Info
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		info := Info{
			Name: strings.TrimSuffix(entry.Name(), Suffix),
			Path: path,
		}
		if owner, err := ReadOwner(path); err == nil {
			info.Owner = owner
		}
		locks = append(locks, info)
	}

	sort.Slice(locks, func(i, j int) bool { return locks[i].Name < locks[j].Name })
	return locks, nil
}

// ReadOwner reads the owner record of a lock directory.
func ReadOwner(path string) (*Owner, error) {
	data, err := os.ReadFile(filepath.Join(path, OwnerFileName))
	if err != nil {
		return nil, err
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil {
		return nil, fmt.Errorf("failed to parse lock owner: %w", err)
	}
	return &owner, nil
}

// writeOwner records who holds the lock. Failure only costs diagnostics.
func (m *Manager) writeOwner(path string) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	data, err := json.MarshalIndent(Owner{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(path, OwnerFileName), data, 0644); err != nil {
		m.logger.Warn("failed to write lock owner", "path", path, "error", err.Error())
	}
}
