// SPDX-License-Identifier: MPL-2.0

// Package installer drives module installation and removal against a kaven
// project.
//
// An install is one linear pipeline:
//
//	Resolving -> Verifying -> Gating -> Fetching -> Staging -> Applying -> Committed
//
// Nothing in the project is written before Applying. Every write made while
// applying is preceded by a snapshot of the file it replaces, so a failure or
// cancellation restores the project byte for byte and the run ends in the
// RolledBack state. Failures are reported as *StageError naming the stage and
// the module.
package installer
