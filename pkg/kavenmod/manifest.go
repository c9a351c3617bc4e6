// SPDX-License-Identifier: MPL-2.0

package kavenmod

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/bychrisr/kaven-cli/pkg/cueutil"
)

// ManifestFileName is the manifest file at the root of a module package.
const ManifestFileName = "module.json"

const (
	KindAnchor InjectionKind = "anchor"
	KindPatch  InjectionKind = "patch"

	StrategyAppend  Strategy = "append"
	StrategyPrepend Strategy = "prepend"
	StrategyReplace Strategy = "replace"
	StrategyAfter   Strategy = "after"
	StrategyBefore  Strategy = "before"
)

var (
	//go:embed manifest_schema.cue
	manifestSchema string

	// ErrInvalidManifest is wrapped by every *ManifestError.
	ErrInvalidManifest = errors.New("invalid module manifest")
)

type (
	// InjectionKind selects how an injection locates its insertion point.
	InjectionKind string

	// Strategy places injected content relative to the located anchor or match.
	Strategy string

	// Manifest is a decoded and validated module.json.
	Manifest struct {
		Name               string            `json:"name"`
		Slug               string            `json:"slug"`
		Version            string            `json:"version"`
		Description        string            `json:"description,omitempty"`
		Category           string            `json:"category,omitempty"`
		Dependencies       map[string]string `json:"dependencies,omitempty"`
		DevDependencies    map[string]string `json:"devDependencies,omitempty"`
		ModuleDependencies []string          `json:"moduleDependencies,omitempty"`
		Files              []ModuleFile      `json:"files,omitempty"`
		Injections         []Injection       `json:"injections,omitempty"`
		// Schema lists Prisma fragment paths relative to the package root.
		Schema []string `json:"schema,omitempty"`

		// FilePath is where the manifest was read from (not part of the document).
		FilePath string `json:"-"`
	}

	// ModuleFile copies Source (relative to the package) to Dest (relative to
	// the project root).
	ModuleFile struct {
		Source string `json:"source"`
		Dest   string `json:"dest"`
	}

	// Injection is a single text mutation of a file in the target project.
	Injection struct {
		File            string        `json:"file"`
		Kind            InjectionKind `json:"kind"`
		Anchor          string        `json:"anchor,omitempty"`
		Pattern         string        `json:"pattern,omitempty"`
		Regex           bool          `json:"regex,omitempty"`
		Content         string        `json:"content"`
		Strategy        Strategy      `json:"strategy"`
		DedupeKey       string        `json:"dedupeKey,omitempty"`
		CreateIfMissing bool          `json:"createIfMissing,omitempty"`
	}
)

// ParseManifest reads and validates the manifest at path.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifestBytes(data, path)
}

// ParseManifestBytes decodes data against the manifest schema and runs
// Validate. path is only used for error messages.
func ParseManifestBytes(data []byte, path string) (*Manifest, error) {
	res, err := cueutil.ParseAndDecodeString[Manifest](manifestSchema, data, "#Manifest",
		cueutil.WithFilename(path))
	if err != nil {
		return nil, &ManifestError{Path: path, Cause: err}
	}

	m := res.Value
	m.FilePath = path
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// String returns the module as "slug@version".
func (m *Manifest) String() string {
	return m.Slug + "@" + m.Version
}

// IsValid reports whether k is one of the known kinds.
func (k InjectionKind) IsValid() bool {
	return k == KindAnchor || k == KindPatch
}

// Supports reports whether strategy s is meaningful for kind k.
// Anchors only take append/prepend; patches take replace/after/before.
func (k InjectionKind) Supports(s Strategy) bool {
	switch k {
	case KindAnchor:
		return s == StrategyAppend || s == StrategyPrepend
	case KindPatch:
		return s == StrategyReplace || s == StrategyAfter || s == StrategyBefore
	default:
		return false
	}
}

// IsValid reports whether s is one of the known strategies.
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyAppend, StrategyPrepend, StrategyReplace, StrategyAfter, StrategyBefore:
		return true
	default:
		return false
	}
}

// Locator returns the anchor name or pattern the injection targets.
func (i Injection) Locator() string {
	if i.Kind == KindAnchor {
		return i.Anchor
	}
	return i.Pattern
}

// Key returns the dedupe key that tags the injected block. Without an
// explicit DedupeKey the key is derived from the target file, locator and
// content; injections that differ in any of those get different keys and
// are tracked as separate blocks.
func (i Injection) Key() string {
	if i.DedupeKey != "" {
		return i.DedupeKey
	}
	h := sha256.New()
	for _, part := range []string{i.File, string(i.Kind), i.Locator(), i.Content} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return "auto-" + hex.EncodeToString(h.Sum(nil))[:12]
}
