package orchestrator

import (
	"context"
	"os"

	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/session"
)

// View is one row of List.
type View struct {
	*session.Session
	// SocketPresent reports whether the control socket file exists.
	SocketPresent bool `json:"socket_present"`
}

// List returns the registered sessions under prefix (all when empty) with
// their status reconciled against the running containers. Changed statuses
// are persisted, which is how orphans are detected.
func (o *Orchestrator) List(ctx context.Context, prefix string) ([]View, error) {
	if prefix != "" {
		if _, err := o.prefixOrDefault(prefix); err != nil {
			return nil, err
		}
	}
	sessions, err := o.registry.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	running, err := container.Snapshot(ctx, o.runtime)
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(sessions))
	for _, r := range session.Reconcile(sessions, running) {
		s := r.Session
		if r.Changed {
			o.logger.Info("session status changed", "session", string(s.Name),
				"from", string(s.Status), "to", string(r.Status))
			if updated, err := o.registry.SetStatus(ctx, s.Name, r.Status); err == nil {
				s = updated
			} else {
				o.logger.Warn("failed to persist session status", "session", string(s.Name), "error", err.Error())
				s = s.Clone()
				s.Status = r.Status
			}
		}
		_, statErr := os.Stat(s.Socket)
		views = append(views, View{Session: s, SocketPresent: statErr == nil})
	}
	return views, nil
}
