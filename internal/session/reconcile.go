package session

// Reconciled pairs a session with its effective status.
type Reconciled struct {
	Session *Session
	Status  Status
	// Changed reports that Status differs from the recorded status.
	Changed bool
}

// Reconcile computes each session's effective status from a snapshot of
// running container names. It has no side effects.
//
//   - starting or running with its container gone: orphaned
//   - orphaned with its container back: running
//   - anything else keeps its recorded status
func Reconcile(sessions []*Session, running map[string]bool) []Reconciled {
	out := make([]Reconciled, 0, len(sessions))
	for _, s := range sessions {
		status := s.Status
		alive := running[s.Container]
		switch {
		case s.Status.IsLive() && !alive:
			status = StatusOrphaned
		case s.Status == StatusOrphaned && alive:
			status = StatusRunning
		}
		out = append(out, Reconciled{Session: s, Status: status, Changed: status != s.Status})
	}
	return out
}
