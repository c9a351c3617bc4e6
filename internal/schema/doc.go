// SPDX-License-Identifier: MPL-2.0

// Package schema merges Prisma-style schema fragments into a base schema.
//
// The merge is text preserving: base blocks keep their exact lines, new
// fields are appended inside existing blocks, and new blocks are appended at
// the end in fragment order. Merging the same fragments again changes
// nothing, and merging fragments one at a time gives the same text as
// merging them together. A field declared with a different type than the
// base is a *SchemaConflictError; nothing is ever overwritten.
package schema
