// SPDX-License-Identifier: MPL-2.0

//go:build unix

package projectlock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// signalProbe checks for pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func signalProbe(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
