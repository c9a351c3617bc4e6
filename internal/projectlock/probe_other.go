// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package projectlock

// signalProbe cannot tell on this platform; the lock is kept.
func signalProbe(int) bool { return true }
