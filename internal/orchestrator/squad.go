package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hal9000-dev/hal9000/internal/audit"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/session"
)

// SquadFile describes a group of workers started together.
//
//	name: auth
//	prefix: squad
//	project: ..
//	worktree: true
//	workers:
//	  - branch: feature/auth
//	    prompt: implement the login flow
//	  - branch: feature/api
//	    profile: node
type SquadFile struct {
	Name     string        `yaml:"name"`
	Prefix   string        `yaml:"prefix"`
	Profile  string        `yaml:"profile"`
	Project  string        `yaml:"project"`
	Worktree bool          `yaml:"worktree"`
	Workers  []SquadWorker `yaml:"workers"`
}

// SquadWorker is one worker of a squad. Empty fields inherit the squad's.
type SquadWorker struct {
	Name    string `yaml:"name"`
	Branch  string `yaml:"branch"`
	Profile string `yaml:"profile"`
	Project string `yaml:"project"`
	// Prompt is sent to the worker's main window once it is running.
	Prompt string `yaml:"prompt"`
}

// SquadLockName is the lock held for the duration of a squad run.
func SquadLockName(name string) string {
	return "squad-" + name
}

// ParseSquadYAML decodes and validates a squad definition.
func ParseSquadYAML(data []byte) (*SquadFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.NewValidationError("squad file is empty")
	}
	var sf SquadFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to decode squad file: %v", err))
	}
	if err := sf.Validate(); err != nil {
		return nil, err
	}
	return &sf, nil
}

// LoadSquadFile reads a squad definition. Relative project paths are
// resolved against the file's directory.
func LoadSquadFile(path string) (*SquadFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewValidationError("squad file does not exist").WithField("file").WithValue(path)
		}
		return nil, fmt.Errorf("failed to read squad file: %w", err)
	}
	sf, err := ParseSquadYAML(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	if sf.Project == "" {
		sf.Project = base
	}
	sf.Project = resolve(sf.Project)
	for i := range sf.Workers {
		sf.Workers[i].Project = resolve(sf.Workers[i].Project)
	}
	return sf, nil
}

// Validate checks the squad name and that worker names are present and
// unique after normalization.
func (sf *SquadFile) Validate() error {
	if _, err := session.NewName(sf.Name); err != nil {
		return errors.NewValidationError("squad name is required").WithField("name").WithValue(sf.Name)
	}
	if len(sf.Workers) == 0 {
		return errors.NewValidationError("squad has no workers").WithField("workers")
	}
	seen := make(map[session.Name]int, len(sf.Workers))
	for i, w := range sf.Workers {
		raw := w.Name
		if raw == "" {
			raw = w.Branch
		}
		if raw == "" {
			return errors.NewValidationError(fmt.Sprintf("worker %d needs a name or a branch", i+1)).WithField("workers")
		}
		if sf.Worktree && w.Branch == "" {
			return errors.NewValidationError(fmt.Sprintf("worker %d needs a branch to use a worktree", i+1)).WithField("workers")
		}
		name, err := session.NewName(raw)
		if err != nil {
			return err
		}
		if j, dup := seen[name]; dup {
			return errors.NewValidationError(fmt.Sprintf("workers %d and %d share the name %s", j+1, i+1, name)).WithField("workers")
		}
		seen[name] = i
	}
	return nil
}

// SquadReport is the outcome of one squad run.
type SquadReport struct {
	RunID   string
	Spawned []*session.Session
	Skipped []*session.Session
	Failed  map[string]error
}

// Squad spawns every worker of sf in order, then sends each worker its
// prompt. Only one run per squad name proceeds at a time. A failing worker
// does not stop the others; failures are returned as a joined error.
func (o *Orchestrator) Squad(ctx context.Context, sf *SquadFile) (*SquadReport, error) {
	if err := sf.Validate(); err != nil {
		return nil, err
	}
	lease, err := o.store.Lease(ctx, SquadLockName(sf.Name))
	if err != nil {
		return nil, err
	}

	report := &SquadReport{RunID: uuid.NewString(), Failed: make(map[string]error)}
	log := o.logger.With("squad", sf.Name, "run_id", report.RunID)
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			log.Warn("failed to release squad lock", "error", rerr.Error())
		}
	}()

	o.audit.Record(audit.EventCoordinatorStart, sf.Name,
		audit.KV("run_id", report.RunID),
		audit.KV("workers", len(sf.Workers)))
	log.Info("squad run started", "workers", len(sf.Workers))

	var errs []error
	for _, w := range sf.Workers {
		req := SpawnRequest{
			Name:     w.Name,
			Project:  firstNonEmpty(w.Project, sf.Project),
			Branch:   w.Branch,
			Profile:  firstNonEmpty(w.Profile, sf.Profile),
			Prefix:   sf.Prefix,
			Worktree: sf.Worktree,
			RunID:    report.RunID,
		}
		label := firstNonEmpty(w.Name, w.Branch)

		res, err := o.Spawn(ctx, req)
		if err != nil {
			report.Failed[label] = err
			errs = append(errs, errors.Wrapf(err, "%s", label))
			log.Warn("squad worker failed to spawn", "worker", label, "error", err.Error())
			continue
		}
		if res.Skipped {
			report.Skipped = append(report.Skipped, res.Session)
			continue
		}
		report.Spawned = append(report.Spawned, res.Session)

		if w.Prompt != "" {
			if _, err := o.Send(ctx, SendRequest{Name: string(res.Session.Name), Command: w.Prompt}); err != nil {
				report.Failed[label] = err
				errs = append(errs, errors.Wrapf(err, "%s", label))
			}
		}
	}

	o.audit.Record(audit.EventCoordinatorStop, sf.Name,
		audit.KV("run_id", report.RunID),
		audit.KV("spawned", len(report.Spawned)),
		audit.KV("skipped", len(report.Skipped)),
		audit.KV("failed", len(report.Failed)))
	log.Info("squad run finished", "spawned", len(report.Spawned), "failed", len(report.Failed))

	return report, errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
