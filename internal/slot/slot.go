// Package slot assigns slot numbers to worker containers sharing a name
// prefix. Container names follow <prefix>-<name>-slot<N>; a new worker gets
// one more than the highest slot currently running. Freed low slots are not
// reused while a higher one is running.
package slot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/hal9000-dev/hal9000/internal/container"
	"github.com/hal9000-dev/hal9000/internal/errors"
	"github.com/hal9000-dev/hal9000/internal/lock"
	"github.com/hal9000-dev/hal9000/internal/logging"
)

// ContainerName builds the container name for a session in a slot.
func ContainerName(prefix, name string, slot int) string {
	return fmt.Sprintf("%s-%s-slot%d", prefix, name, slot)
}

// Parse extracts the slot number from a container name under prefix.
// Names that do not match <prefix>-<anything>-slot<N> report false.
func Parse(prefix, containerName string) (int, bool) {
	m := pattern(prefix).FindStringSubmatch(containerName)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func pattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-.+-slot(\d+)$`)
}

// Next returns max(slots)+1 over the names matching prefix, or 1.
func Next(prefix string, containerNames []string) int {
	highest := 0
	for _, name := range containerNames {
		if n, ok := Parse(prefix, name); ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// Running returns the running containers that belong to prefix. Names are
// matched by pattern; when l also reports labels, a container labelled
// with a different prefix is excluded, so squad does not claim the
// containers of squad-red. Unlabelled containers are kept.
func Running(ctx context.Context, l container.Lister, prefix string) ([]string, error) {
	names, err := l.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	var labels map[string]string
	if ll, ok := l.(container.LabelLister); ok {
		if labels, err = ll.RunningLabels(ctx, container.LabelPrefix); err != nil {
			return nil, err
		}
	}

	var out []string
	for _, name := range names {
		if _, ok := Parse(prefix, name); !ok {
			continue
		}
		if owner := labels[name]; owner != "" && owner != prefix {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// LockName is the lock guarding slot allocation for prefix.
func LockName(prefix string) string {
	return "slot-" + prefix
}

// Allocator picks slots from the running-container list.
type Allocator struct {
	lister  container.Lister
	locks   *lock.Manager
	maxWait time.Duration
	logger  *logging.Logger

	// reserved holds slots handed out by Reserve whose containers may not
	// be visible to the lister yet.
	mu       sync.Mutex
	reserved map[string]map[int]bool
}

// NewAllocator returns an Allocator. locks may be nil, in which case
// Reserve falls back to an unguarded scan.
func NewAllocator(lister container.Lister, locks *lock.Manager, maxWait time.Duration, logger *logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Allocator{
		lister:   lister,
		locks:    locks,
		maxWait:  maxWait,
		logger:   logger,
		reserved: make(map[string]map[int]bool),
	}
}

// NextSlot scans running containers and returns max+1 for prefix. Two
// concurrent callers can observe the same snapshot and get the same slot;
// use Reserve where that matters.
func (a *Allocator) NextSlot(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.NewValidationError("slot prefix is required").WithField("prefix")
	}
	names, err := Running(ctx, a.lister, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to scan slots: %w", err)
	}
	return Next(prefix, names), nil
}

// Reserve picks a slot and calls start with it while holding the prefix
// lock, so the container start is visible to the next scan before the lock
// is released. Slots reserved by this Allocator in the meantime are also
// skipped. start's error is returned unchanged and frees the slot.
func (a *Allocator) Reserve(ctx context.Context, prefix string, start func(slot int) error) (int, error) {
	if a.locks == nil {
		n, err := a.NextSlot(ctx, prefix)
		if err != nil {
			return 0, err
		}
		if err := start(n); err != nil {
			return 0, err
		}
		return n, nil
	}

	lease, err := a.locks.Acquire(ctx, LockName(prefix), a.maxWait)
	if err != nil {
		return 0, err
	}
	defer func() {
		if rerr := lease.Release(); rerr != nil {
			a.logger.Warn("failed to release slot lock", "prefix", prefix, "error", rerr.Error())
		}
	}()

	n, err := a.NextSlot(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n = a.claim(prefix, n)
	a.logger.Debug("slot reserved", "prefix", prefix, "slot", n)

	if err := start(n); err != nil {
		a.release(prefix, n)
		return 0, err
	}
	return n, nil
}

// claim returns the first slot >= n that is above every in-process
// reservation for prefix and records it.
func (a *Allocator) claim(prefix string, n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	slots := a.reserved[prefix]
	if slots == nil {
		slots = make(map[int]bool)
		a.reserved[prefix] = slots
	}
	for s := range slots {
		if s >= n {
			n = s + 1
		}
	}
	slots[n] = true
	return n
}

func (a *Allocator) release(prefix string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved[prefix], n)
}
