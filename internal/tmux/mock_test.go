package tmux

import (
	"context"
	"strings"
	"sync"
)

// mockRunner records invocations and answers from runFn.
type mockRunner struct {
	mu          sync.Mutex
	calls       []string
	interactive []string
	runFn       func(args []string) (string, error)
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name+" "+strings.Join(args, " "))
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(args)
	}
	return "", nil
}

func (m *mockRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactive = append(m.interactive, name+" "+strings.Join(args, " "))
	return nil
}
