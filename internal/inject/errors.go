// SPDX-License-Identifier: MPL-2.0

package inject

import (
	"errors"
	"fmt"
)

var (
	ErrTargetNotFound    = errors.New("injection target not found")
	ErrAnchorNotFound    = errors.New("anchor not found")
	ErrPatternNotFound   = errors.New("pattern not found")
	ErrAmbiguousPatch    = errors.New("ambiguous patch")
	ErrUnterminatedBlock = errors.New("unterminated injected block")
)

type (
	// TargetNotFoundError reports a missing target file for an injection that
	// may not create it.
	TargetNotFoundError struct {
		File string
	}

	// AnchorNotFoundError reports a missing anchor, or an anchor whose end
	// marker is missing.
	AnchorNotFoundError struct {
		File       string
		Anchor     string
		MissingEnd bool
	}

	// PatternNotFoundError reports a patch pattern with no match.
	PatternNotFoundError struct {
		File    string
		Pattern string
		Regex   bool
	}

	// AmbiguousPatchError reports an anchor or pattern found more than once.
	AmbiguousPatchError struct {
		File    string
		Locator string
		Matches int
	}

	// UnterminatedBlockError reports a begin sentinel without its end sentinel.
	UnterminatedBlockError struct {
		File string
		Key  string
	}
)

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("injection target %s does not exist", e.File)
}

func (e *TargetNotFoundError) Unwrap() error { return ErrTargetNotFound }

func (e *AnchorNotFoundError) Error() string {
	if e.MissingEnd {
		return fmt.Sprintf("anchor %q in %s has no closing %q marker", e.Anchor, e.File, anchorEndTag+" "+e.Anchor)
	}
	return fmt.Sprintf("anchor %q not found in %s (expected a %q marker)", e.Anchor, e.File, anchorTag+" "+e.Anchor)
}

func (e *AnchorNotFoundError) Unwrap() error { return ErrAnchorNotFound }

func (e *PatternNotFoundError) Error() string {
	kind := "pattern"
	if e.Regex {
		kind = "regular expression"
	}
	return fmt.Sprintf("%s %q not found in %s", kind, e.Pattern, e.File)
}

func (e *PatternNotFoundError) Unwrap() error { return ErrPatternNotFound }

func (e *AmbiguousPatchError) Error() string {
	return fmt.Sprintf("%s matches %d locations in %s, expected exactly one", e.Locator, e.Matches, e.File)
}

func (e *AmbiguousPatchError) Unwrap() error { return ErrAmbiguousPatch }

func (e *UnterminatedBlockError) Error() string {
	return fmt.Sprintf("block %q in %s has no %q sentinel", e.Key, e.File, endTag+" "+e.Key)
}

func (e *UnterminatedBlockError) Unwrap() error { return ErrUnterminatedBlock }
