//go:build linux

package rt

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Apply sets SCHED_FIFO on the calling OS thread and locks memory as
// requested. The caller should hold runtime.LockOSThread. Every failed step
// is reported; the steps that succeeded stay in effect.
func Apply(s Settings) error {
	var err error
	if s.Priority > 0 {
		attr := unix.SchedAttr{
			Policy:   unix.SCHED_FIFO,
			Priority: uint32(s.Priority),
		}
		if serr := unix.SchedSetAttr(0, &attr, 0); serr != nil {
			err = multierr.Append(err, fmt.Errorf("rt: SCHED_FIFO priority %d: %w", s.Priority, serr))
		}
	}
	if s.LockMemory {
		if merr := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); merr != nil {
			err = multierr.Append(err, fmt.Errorf("rt: mlockall: %w", merr))
		}
	}
	return err
}
