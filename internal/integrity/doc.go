// SPDX-License-Identifier: MPL-2.0

// Package integrity verifies downloaded module artifacts before anything
// from them reaches the target project.
//
// An artifact is eligible only when its SHA-256 checksum matches the
// declared value and its detached Ed25519 signature verifies against the
// pinned publisher key. Signatures and keys are hex-encoded; inputs with the
// wrong decoded length are rejected with a *LengthError before the
// signature primitive sees them.
package integrity
