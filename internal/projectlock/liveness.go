// SPDX-License-Identifier: MPL-2.0

package projectlock

import (
	"errors"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// CurrentOwner describes the calling process.
func CurrentOwner() (Owner, error) {
	host, err := os.Hostname()
	if err != nil {
		return Owner{}, err
	}
	pid := os.Getpid()
	// A zero StartTime disables the PID reuse check for this lock.
	start, _ := startTime(pid) //nolint:errcheck // Best-effort; see above.
	return Owner{PID: pid, StartTime: start, Host: host}, nil
}

// Alive reports whether the lock owner is still running. Owners on another
// host cannot be probed and are assumed alive. A PID that now belongs to a
// process started at a different time was recycled and counts as dead.
func Alive(o Owner) bool {
	if o.PID <= 0 {
		return false
	}
	if host, err := os.Hostname(); err == nil && o.Host != "" && o.Host != host {
		return true
	}

	start, err := startTime(o.PID)
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning):
		return false
	case err != nil:
		return signalProbe(o.PID)
	case o.StartTime != 0 && start != o.StartTime:
		return false
	default:
		return true
	}
}

func startTime(pid int) (int64, error) {
	p, err := process.NewProcess(int32(pid)) //nolint:gosec // PIDs fit in int32
	if err != nil {
		return 0, err
	}
	return p.CreateTime()
}
