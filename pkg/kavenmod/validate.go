// SPDX-License-Identifier: MPL-2.0

package kavenmod

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	IssueTypeIdentity   ValidationIssueType = "identity"
	IssueTypeDependency ValidationIssueType = "dependency"
	IssueTypeSecurity   ValidationIssueType = "security"
	IssueTypeInjection  ValidationIssueType = "injection"
	IssueTypeSchema     ValidationIssueType = "schema"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

type (
	// ValidationIssueType groups validation issues for display.
	ValidationIssueType string

	// ValidationIssue is one problem found in a manifest. Issues are collected
	// into a ValidationResult rather than returned one at a time.
	//
	//nolint:errname // an issue is collected, not thrown
	ValidationIssue struct {
		Type    ValidationIssueType
		Message string
		// Field is the manifest location, e.g. "injections[2].pattern".
		Field string
	}

	// ValidationResult accumulates issues for one manifest.
	ValidationResult struct {
		Issues []ValidationIssue
	}

	// ManifestError reports a manifest that failed schema decoding (Cause)
	// or semantic validation (Issues).
	ManifestError struct {
		Path   string
		Issues []ValidationIssue
		Cause  error
	}
)

func (v ValidationIssue) Error() string {
	if v.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", v.Type, v.Field, v.Message)
	}
	return fmt.Sprintf("[%s] %s", v.Type, v.Message)
}

// AddIssue records a problem.
func (r *ValidationResult) AddIssue(t ValidationIssueType, field, format string, args ...any) {
	r.Issues = append(r.Issues, ValidationIssue{Type: t, Field: field, Message: fmt.Sprintf(format, args...)})
}

// Valid reports whether no issues were recorded.
func (r *ValidationResult) Valid() bool { return len(r.Issues) == 0 }

func (e *ManifestError) Error() string {
	name := e.Path
	if name == "" {
		name = ManifestFileName
	}
	if e.Cause != nil {
		return fmt.Sprintf("invalid manifest %s: %v", name, e.Cause)
	}
	lines := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		lines[i] = issue.Error()
	}
	if len(lines) == 1 {
		return fmt.Sprintf("invalid manifest %s: %s", name, lines[0])
	}
	return fmt.Sprintf("invalid manifest %s:\n  %s", name, strings.Join(lines, "\n  "))
}

// Unwrap exposes ErrInvalidManifest and the decoding cause, if any.
func (e *ManifestError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrInvalidManifest, e.Cause}
	}
	return []error{ErrInvalidManifest}
}

// Validate checks the rules the CUE schema cannot express and returns a
// *ManifestError listing every issue, or nil.
func (m *Manifest) Validate() error {
	var r ValidationResult

	if strings.TrimSpace(m.Name) == "" {
		r.AddIssue(IssueTypeIdentity, "name", "must not be empty")
	}
	if !slugPattern.MatchString(m.Slug) {
		r.AddIssue(IssueTypeIdentity, "slug", "%q must match %s", m.Slug, slugPattern)
	}
	if _, ok := CanonicalVersion(m.Version); !ok {
		r.AddIssue(IssueTypeIdentity, "version", "%q is not a semantic version", m.Version)
	}

	for name, rng := range m.Dependencies {
		if strings.TrimSpace(rng) == "" {
			r.AddIssue(IssueTypeDependency, "dependencies."+name, "version range must not be empty")
		}
	}

	seen := make(map[string]bool, len(m.ModuleDependencies))
	for i, dep := range m.ModuleDependencies {
		field := fmt.Sprintf("moduleDependencies[%d]", i)
		switch {
		case !slugPattern.MatchString(dep):
			r.AddIssue(IssueTypeDependency, field, "%q is not a module slug", dep)
		case dep == m.Slug:
			r.AddIssue(IssueTypeDependency, field, "module cannot depend on itself")
		case seen[dep]:
			r.AddIssue(IssueTypeDependency, field, "duplicate dependency %q", dep)
		}
		seen[dep] = true
	}

	for i, f := range m.Files {
		if err := CheckRelativePath(f.Source); err != nil {
			r.AddIssue(IssueTypeSecurity, fmt.Sprintf("files[%d].source", i), "%v", err)
		}
		if err := CheckRelativePath(f.Dest); err != nil {
			r.AddIssue(IssueTypeSecurity, fmt.Sprintf("files[%d].dest", i), "%v", err)
		}
	}

	for i, inj := range m.Injections {
		validateInjection(&r, fmt.Sprintf("injections[%d]", i), inj)
	}

	for i, s := range m.Schema {
		field := fmt.Sprintf("schema[%d]", i)
		if err := CheckRelativePath(s); err != nil {
			r.AddIssue(IssueTypeSchema, field, "%v", err)
		} else if path.Ext(s) != ".prisma" {
			r.AddIssue(IssueTypeSchema, field, "%q is not a .prisma fragment", s)
		}
	}

	if r.Valid() {
		return nil
	}
	return &ManifestError{Path: m.FilePath, Issues: r.Issues}
}

func validateInjection(r *ValidationResult, field string, inj Injection) {
	if err := CheckRelativePath(inj.File); err != nil {
		r.AddIssue(IssueTypeSecurity, field+".file", "%v", err)
	}
	if !inj.Kind.IsValid() {
		r.AddIssue(IssueTypeInjection, field+".kind", "unknown kind %q", inj.Kind)
		return
	}
	if !inj.Strategy.IsValid() {
		r.AddIssue(IssueTypeInjection, field+".strategy", "unknown strategy %q", inj.Strategy)
		return
	}
	if !inj.Kind.Supports(inj.Strategy) {
		r.AddIssue(IssueTypeInjection, field+".strategy", "strategy %q is not valid for %s injections", inj.Strategy, inj.Kind)
	}

	switch inj.Kind {
	case KindAnchor:
		if strings.TrimSpace(inj.Anchor) == "" {
			r.AddIssue(IssueTypeInjection, field+".anchor", "anchor injections require an anchor name")
		} else if strings.ContainsAny(inj.Anchor, " \t\r\n") {
			r.AddIssue(IssueTypeInjection, field+".anchor", "anchor name %q must not contain whitespace", inj.Anchor)
		}
	case KindPatch:
		if inj.Pattern == "" {
			r.AddIssue(IssueTypeInjection, field+".pattern", "patch injections require a pattern")
		} else if inj.Regex {
			if _, err := regexp.Compile(inj.Pattern); err != nil {
				r.AddIssue(IssueTypeInjection, field+".pattern", "invalid regular expression: %v", err)
			}
		}
	}

	if strings.ContainsAny(inj.DedupeKey, " \t\r\n") {
		r.AddIssue(IssueTypeInjection, field+".dedupeKey", "dedupe key %q must not contain whitespace", inj.DedupeKey)
	}
}

// CheckRelativePath rejects paths that could escape the directory they are
// resolved against: empty, absolute, NUL bytes, or ".." after cleaning.
// Paths use forward slashes.
func CheckRelativePath(p string) error {
	switch {
	case p == "":
		return fmt.Errorf("path must not be empty")
	case strings.ContainsRune(p, 0):
		return fmt.Errorf("path %q contains a NUL byte", p)
	case path.IsAbs(p) || strings.HasPrefix(p, `\`) || (len(p) > 1 && p[1] == ':'):
		return fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes its root", p)
	}
	return nil
}

// CanonicalVersion returns v in "vMAJOR.MINOR.PATCH[-pre]" form. Both "1.2.3"
// and "v1.2.3" are accepted; shorthand like "1.2" is not.
func CanonicalVersion(v string) (string, bool) {
	if v == "" {
		return "", false
	}
	if v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	core, _, _ := strings.Cut(v, "+")
	canon := semver.Canonical(v)
	if canon != core {
		return "", false
	}
	return canon, true
}

// CompareVersions orders two manifest versions (semver precedence).
// Invalid versions sort before valid ones.
func CompareVersions(a, b string) int {
	ca, _ := CanonicalVersion(a)
	cb, _ := CanonicalVersion(b)
	return semver.Compare(ca, cb)
}
