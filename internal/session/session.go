// Package session models worker sessions and persists them.
//
// The registry keeps one JSON file per live session for fast listing and an
// append-only history.jsonl for post-mortems. Writes are serialized with the
// "registry" lock; reads take no lock and may miss a session being recorded
// concurrently.
package session

import "time"

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusOrphaned Status = "orphaned"
)

// IsLive reports whether the session is expected to have a running container.
func (s Status) IsLive() bool {
	return s == StatusStarting || s == StatusRunning
}

// Session describes one worker.
type Session struct {
	Name      Name   `json:"session"`
	Prefix    string `json:"prefix"`
	Profile   string `json:"profile,omitempty"`
	Slot      int    `json:"slot"`
	Branch    string `json:"branch,omitempty"`
	Directory string `json:"worktree"`
	// Project is the repository a managed worktree was created from.
	Project string `json:"project,omitempty"`
	// ManagedWorktree marks Directory as created by hal9000, so cleanup may
	// delete it.
	ManagedWorktree bool      `json:"managed_worktree,omitempty"`
	Container       string    `json:"container"`
	Socket          string    `json:"socket"`
	Status          Status    `json:"status"`
	RunID           string    `json:"run_id,omitempty"`
	CreatedAt       time.Time `json:"created"`
	UpdatedAt       time.Time `json:"updated"`
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
