// SPDX-License-Identifier: MPL-2.0

package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrSchemaConflict is wrapped by *SchemaConflictError.
	ErrSchemaConflict = errors.New("schema conflict")
	// ErrSchemaSyntax is wrapped by *ParseError.
	ErrSchemaSyntax = errors.New("schema syntax error")
)

type (
	// SchemaConflictError reports a field (or block) declared differently by
	// the base and a fragment. Field is empty when two blocks of different
	// kinds share a name; BaseType and FragmentType then hold the kinds.
	SchemaConflictError struct {
		Model        string
		Field        string
		BaseType     string
		FragmentType string
		Fragment     string
	}

	// ParseError reports malformed schema text.
	ParseError struct {
		File string
		Line int
		Msg  string
	}
)

func (e *SchemaConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema conflict: %s is a %s in the base schema but a %s in %s",
			e.Model, e.BaseType, e.FragmentType, e.Fragment)
	}
	return fmt.Sprintf("schema conflict in %s.%s: base declares %s, %s declares %s",
		e.Model, e.Field, e.BaseType, e.Fragment, e.FragmentType)
}

func (e *SchemaConflictError) Unwrap() error { return ErrSchemaConflict }

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrSchemaSyntax }
