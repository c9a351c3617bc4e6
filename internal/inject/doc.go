// SPDX-License-Identifier: MPL-2.0

// Package inject applies anchor and patch injections to files of a target
// project and reverses them.
//
// Anchors are paired marker comments that a project places around a safe
// insertion point:
//
//	// kaven:anchor routes
//	// kaven:anchor-end routes
//
// Patches locate a literal substring or a regular expression that must match
// exactly once. Every inserted block is wrapped in sentinel comments that
// carry its dedupe key:
//
//	// kaven:begin payments-routes
//	app.use(payments)
//	// kaven:end payments-routes
//
// A file already holding the begin sentinel for a key is left untouched,
// which makes re-running an install safe. The same sentinels let Remove
// delete exactly the block an injection added.
package inject
