// SPDX-License-Identifier: MPL-2.0

// Package kavenmod is the in-memory model of a kaven module manifest.
//
// A module ships a module.json manifest next to its files. The manifest is
// decoded through an embedded CUE schema (structure, required fields, closed
// enums) and then checked by Validate for the rules CUE cannot express:
// slug shape, semantic versions, path containment and regex compilation.
// Problems are collected into a ValidationResult and surfaced as a single
// *ManifestError so a module author sees every issue at once.
package kavenmod
