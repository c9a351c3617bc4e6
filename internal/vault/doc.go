// SPDX-License-Identifier: MPL-2.0

// Package vault stores the kaven login credentials.
//
// The OS secret store (Keychain, Secret Service, Windows Credential Manager)
// is tried first. When it fails for any reason the credentials go to
// <config dir>/kaven/credentials.json instead: a 0600 file in a 0700
// directory, sealed with NaCl secretbox under a per-user key kept next to it.
package vault
