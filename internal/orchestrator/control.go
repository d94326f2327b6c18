package orchestrator

import (
	"context"
	"time"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/remote"
	"github.com/hal9000-dev/hal9000/internal/session"
)

// Attach hands the terminal to the named worker. The returned Liveness
// carries a warning when the worker's container is not running.
func (o *Orchestrator) Attach(ctx context.Context, name, window string) (remote.Liveness, error) {
	return o.remote.Attach(ctx, name, window)
}

// SendRequest describes a command typed into one worker.
type SendRequest struct {
	Name    string
	Window  string
	Command string
	// Capture returns the pane content after Wait has elapsed.
	Capture bool
	Wait    time.Duration
	// History adds scrollback lines to the capture.
	History int
}

// SendResult is the outcome of Send.
type SendResult struct {
	Session session.Name
	// Output is the captured pane content when capture was requested.
	Output string
	// Warning is set when the worker's container is not running.
	Warning string
}

// Send types a command into a worker. When req.Capture is set the pane
// content is returned after req.Wait.
func (o *Orchestrator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	live, err := o.remote.Send(ctx, req.Name, req.Window, req.Command)
	if err != nil {
		return nil, err
	}
	details := []audit.Detail{
		audit.KV("window", remote.Window(req.Window)),
		audit.KV("chars", len(req.Command)),
	}
	if !live.Alive {
		details = append(details, audit.KV("alive", false))
	}
	o.audit.Record(audit.EventCommandSend, string(live.Name), details...)

	res := &SendResult{Session: live.Name, Warning: live.Warning}
	if !req.Capture {
		return res, nil
	}
	if req.Wait > 0 {
		t := time.NewTimer(req.Wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return res, ctx.Err()
		}
	}
	res.Output, err = o.remote.Capture(ctx, string(live.Name), req.Window, req.History)
	if err != nil {
		return res, err
	}
	return res, nil
}

// Broadcast sends command to every session selected by opts and records
// one audit event per target.
func (o *Orchestrator) Broadcast(ctx context.Context, command string, opts remote.BroadcastOptions) ([]remote.Result, error) {
	results, err := o.remote.Broadcast(ctx, command, opts)
	for _, r := range results {
		details := []audit.Detail{
			audit.KV("window", remote.Window(opts.Window)),
			audit.KV("chars", len(command)),
		}
		if r.OK() {
			details = append(details, audit.KV("result", "ok"))
		} else {
			details = append(details, audit.KV("result", "failed"), audit.KV("error", r.Err))
		}
		if r.Warning != "" {
			details = append(details, audit.KV("alive", false))
		}
		o.audit.Record(audit.EventCommandBroadcast, string(r.Session), details...)
	}
	return results, err
}
