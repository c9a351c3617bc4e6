// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by package tests: a controllable
// clock for entitlement and token expiry, and filesystem helpers for building
// and comparing project trees (WriteFile, ReadFile, SnapshotTree).
package testutil
