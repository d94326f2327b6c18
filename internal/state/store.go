// Package state owns the runtime-state root shared by every hal9000
// invocation: lock directories, session registry files, control sockets and
// logs. Business logic reaches the filesystem only through a Store, which
// writes files atomically (temp file + rename) and hands out leases from the
// lock manager instead of exposing directory-creation races directly.
package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/lock"
)

// Layout of the state root.
const (
	LocksDir    = "locks"
	SessionsDir = "sessions"
	SocketsDir  = "sockets"
	LogsDir     = "logs"

	// SocketSuffix is appended to a session name to form its socket file.
	SocketSuffix = ".sock"

	// DefaultLeaseWait bounds Lease when no wait is configured.
	DefaultLeaseWait = 30 * time.Second
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store provides keyed file storage and leases under a single root.
// Keys use "/" as a separator and are relative to the root.
type Store struct {
	root      string
	locks     *lock.Manager
	leaseWait time.Duration

	// mu serializes writers within this process; cross-process exclusion
	// is the caller's job through Lease.
	mu sync.RWMutex
}

// Option configures a Store.
type Option func(*Store)

// WithLeaseWait sets the bounded wait used by Lease and WithLease.
func WithLeaseWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.leaseWait = d
		}
	}
}

// WithLockManager replaces the default lock manager rooted at <root>/locks.
func WithLockManager(m *lock.Manager) Option {
	return func(s *Store) {
		if m != nil {
			s.locks = m
		}
	}
}

// New returns a Store rooted at root.
func New(root string, opts ...Option) *Store {
	s := &Store{
		root:      root,
		leaseWait: DefaultLeaseWait,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = lock.NewManager(filepath.Join(root, LocksDir))
	}
	return s
}

// Ensure creates the root and its fixed subdirectories.
func (s *Store) Ensure() error {
	for _, dir := range []string{LocksDir, SessionsDir, SocketsDir, LogsDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), 0755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	return nil
}

// Root returns the state root directory.
func (s *Store) Root() string { return s.root }

// Locks returns the lock manager.
func (s *Store) Locks() *lock.Manager { return s.locks }

// Dir returns the absolute path of a subdirectory of the root.
func (s *Store) Dir(name string) string {
	return filepath.Join(s.root, name)
}

// SocketPath returns the control socket path for a session name. The file
// may not exist.
func (s *Store) SocketPath(name string) string {
	return filepath.Join(s.root, SocketsDir, name+SocketSuffix)
}

// Lease acquires the named lock with the store's bounded wait.
func (s *Store) Lease(ctx context.Context, name string) (*lock.Lease, error) {
	return s.locks.Acquire(ctx, name, s.leaseWait)
}

// WithLease runs fn while holding the named lock.
func (s *Store) WithLease(ctx context.Context, name string, fn func() error) error {
	return s.locks.WithLock(ctx, name, s.leaseWait, fn)
}

// Path converts a key to an absolute path. Keys escaping the root are
// rejected.
func (s *Store) Path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.NewValidationError("invalid state key").WithField("key").WithValue(key)
	}
	return filepath.Join(s.root, clean), nil
}

// Save persists data under key using an atomic write.
func (s *Store) Save(ctx context.Context, key string, data []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return AtomicWriteFile(path, data, 0644)
}

// Load retrieves the data stored under key.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	path, err := s.Path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes the data stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if a key exists without loading its data.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.Path(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return true, nil
}

// List returns the keys of regular files directly inside dir whose names
// end in suffix, sorted. Temp files from in-flight writes are skipped.
func (s *Store) List(ctx context.Context, dir, suffix string) ([]string, error) {
	path, err := s.Path(dir)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, suffix) {
			continue
		}
		keys = append(keys, dir+"/"+name)
	}
	sort.Strings(keys)
	return keys, nil
}

// AppendLine appends one newline-terminated record to key in a single
// O_APPEND write.
func (s *Store) AppendLine(ctx context.Context, key string, line []byte) error {
	path, err := s.Path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		buf = append(buf, '\n')
	}
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

// AtomicWriteFile writes data to a temp file in the target directory and
// renames it over path, so readers see either the old or the new content.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
