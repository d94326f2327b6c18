package container

import (
	"context"
	"fmt"
)

// Guard runs fn while holding a named cross-process lock.
type Guard interface {
	WithLease(ctx context.Context, name string, fn func() error) error
}

// VolumeLockName is the lock guarding first-time creation of a volume.
func VolumeLockName(volume string) string {
	return "volume-" + volume
}

// EnsureVolumes creates each named volume that does not exist yet. The
// existence check and creation run under a per-volume lock so two
// concurrent spawns never race to create the same volume.
func EnsureVolumes(ctx context.Context, rt Runtime, guard Guard, mounts []Mount) error {
	for _, m := range mounts {
		name := m.Source
		err := guard.WithLease(ctx, VolumeLockName(name), func() error {
			exists, err := rt.VolumeExists(ctx, name)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			return rt.CreateVolume(ctx, name)
		})
		if err != nil {
			return fmt.Errorf("failed to ensure volume %s: %w", name, err)
		}
	}
	return nil
}
