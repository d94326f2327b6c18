package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/logging"
	"github.com/hal9000-dev/hal9000/internal/state"
)

const (
	// LockName serializes registry writers across processes.
	LockName = "registry"

	historyKey = state.SessionsDir + "/history.jsonl"
	fileSuffix = ".json"
)

// ErrNotFound is matched by errors returned for unknown session names.
var ErrNotFound = errors.ErrSessionNotFound

// History events.
const (
	EventRecorded = "recorded"
	EventRemoved  = "removed"
)

// HistoryEntry is one line of history.jsonl.
type HistoryEntry struct {
	Session  Name      `json:"session"`
	Branch   string    `json:"branch"`
	Worktree string    `json:"worktree"`
	Slot     int       `json:"slot"`
	Profile  string    `json:"profile"`
	Created  time.Time `json:"created"`
	Event    string    `json:"event"`
	Status   Status    `json:"status"`
	At       time.Time `json:"at"`
}

// Registry persists sessions in a state.Store.
type Registry struct {
	store  *state.Store
	now    func() time.Time
	logger *logging.Logger
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store *state.Store, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Registry{store: store, now: time.Now, logger: logger}
}

func key(name Name) string {
	return state.SessionsDir + "/" + string(name) + fileSuffix
}

// Record creates or replaces the live entry for s and appends a history
// line. Zero CreatedAt is filled in; UpdatedAt is always set.
func (r *Registry) Record(ctx context.Context, s *Session) error {
	if s == nil || s.Name == "" {
		return errors.NewValidationError("session name is required").WithField("name")
	}

	now := r.now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return r.store.WithLease(ctx, LockName, func() error {
		if err := r.store.Save(ctx, key(s.Name), data); err != nil {
			return fmt.Errorf("failed to save session %s: %w", s.Name, err)
		}
		r.appendHistory(ctx, s, EventRecorded, s.Status)
		return nil
	})
}

// Get returns the session named name. A miss returns a resolution error
// listing the known sessions; it matches ErrNotFound.
func (r *Registry) Get(ctx context.Context, name Name) (*Session, error) {
	s, err := r.load(ctx, name)
	if err == nil {
		return s, nil
	}
	if errors.Is(err, state.ErrNotFound) {
		return nil, r.notFound(ctx, name)
	}
	return nil, err
}

// Resolve maps raw to a registered session name. raw may be the bare name
// or the name qualified by its container prefix (squad-feature-auth); a
// bare match wins. A miss returns the same error as Get.
func (r *Registry) Resolve(ctx context.Context, raw string) (Name, error) {
	name, err := NewName(raw)
	if err != nil {
		return "", err
	}
	if _, err := r.load(ctx, name); err == nil {
		return name, nil
	} else if !errors.Is(err, state.ErrNotFound) {
		return "", err
	}

	sessions, err := r.List(ctx, "")
	if err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.Prefix == "" {
			continue
		}
		if q, err := NewName(s.Prefix + "-" + string(s.Name)); err == nil && q == name {
			return s.Name, nil
		}
	}
	return "", r.notFound(ctx, name)
}

func (r *Registry) load(ctx context.Context, name Name) (*Session, error) {
	data, err := r.store.Load(ctx, key(name))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("corrupt session file %s: %w", name, err)
	}
	return &s, nil
}

func (r *Registry) notFound(ctx context.Context, name Name) error {
	known, _ := r.Names(ctx)
	return errors.NewResolutionError("session", string(name)).WithKnown(known)
}

// List returns sessions whose container prefix equals prefix (all when
// empty), ordered by prefix, slot and name. Unreadable entries are skipped
// and logged.
func (r *Registry) List(ctx context.Context, prefix string) ([]*Session, error) {
	keys, err := r.store.List(ctx, state.SessionsDir, fileSuffix)
	if err != nil {
		return nil, err
	}

	var sessions []*Session
	for _, k := range keys {
		name := Name(strings.TrimSuffix(strings.TrimPrefix(k, state.SessionsDir+"/"), fileSuffix))
		s, err := r.load(ctx, name)
		if err != nil {
			if !errors.Is(err, state.ErrNotFound) {
				r.logger.Warn("skipping unreadable session", "session", string(name), "error", err.Error())
			}
			continue
		}
		if prefix != "" && s.Prefix != prefix {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if a.Prefix != b.Prefix {
			return a.Prefix < b.Prefix
		}
		if a.Slot != b.Slot {
			return a.Slot < b.Slot
		}
		return a.Name < b.Name
	})
	return sessions, nil
}

// Names returns the names of all recorded sessions.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	keys, err := r.store.List(ctx, state.SessionsDir, fileSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(k, state.SessionsDir+"/"), fileSuffix))
	}
	return names, nil
}

// SetStatus updates the status of an existing session.
func (r *Registry) SetStatus(ctx context.Context, name Name, status Status) (*Session, error) {
	var updated *Session
	err := r.store.WithLease(ctx, LockName, func() error {
		s, err := r.load(ctx, name)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return r.notFound(ctx, name)
			}
			return err
		}
		if s.Status == status {
			updated = s
			return nil
		}
		s.Status = status
		s.UpdatedAt = r.now().UTC()

		data, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		if err := r.store.Save(ctx, key(name), data); err != nil {
			return fmt.Errorf("failed to save session %s: %w", name, err)
		}
		r.appendHistory(ctx, s, EventRecorded, status)
		updated = s
		return nil
	})
	return updated, err
}

// Remove deletes the live entry for name. History keeps a removal line
// with status stopped. Removing an unknown name returns an error matching
// ErrNotFound.
func (r *Registry) Remove(ctx context.Context, name Name) error {
	return r.store.WithLease(ctx, LockName, func() error {
		s, err := r.load(ctx, name)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return r.notFound(ctx, name)
			}
			// A corrupt entry is still removed.
			s = &Session{Name: name}
		}
		if err := r.store.Delete(ctx, key(name)); err != nil && !errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("failed to remove session %s: %w", name, err)
		}
		r.appendHistory(ctx, s, EventRemoved, StatusStopped)
		return nil
	})
}

// History returns history entries for name, or all entries when name is
// empty, in the order they were written.
func (r *Registry) History(ctx context.Context, name Name) ([]HistoryEntry, error) {
	data, err := r.store.Load(ctx, historyKey)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var entries []HistoryEntry
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if name == "" || e.Session == name {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// appendHistory is best effort: the live entry is authoritative.
func (r *Registry) appendHistory(ctx context.Context, s *Session, event string, status Status) {
	line, err := json.Marshal(HistoryEntry{
		Session:  s.Name,
		Branch:   s.Branch,
		Worktree: s.Directory,
		Slot:     s.Slot,
		Profile:  s.Profile,
		Created:  s.CreatedAt,
		Event:    event,
		Status:   status,
		At:       r.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := r.store.AppendLine(ctx, historyKey, line); err != nil {
		r.logger.Warn("failed to append session history", "session", string(s.Name), "error", err.Error())
	}
}
