// SPDX-License-Identifier: MPL-2.0

package schema

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Source is schema text with the name used for it in errors.
type Source struct {
	Name string
	Data []byte
}

// MergeSchemas merges the fragment files into the base file, in order, and
// returns the merged text. Nothing is written.
func MergeSchemas(basePath string, fragmentPaths []string) (string, error) {
	base, err := readSource(basePath)
	if err != nil {
		return "", err
	}
	frags := make([]Source, 0, len(fragmentPaths))
	for _, p := range fragmentPaths {
		f, err := readSource(p)
		if err != nil {
			return "", err
		}
		frags = append(frags, f)
	}
	return Merge(base, frags...)
}

// Merge merges fragments into base, in order.
func Merge(base Source, fragments ...Source) (string, error) {
	s, err := Parse(base.Name, base.Data)
	if err != nil {
		return "", err
	}
	for _, f := range fragments {
		frag, err := Parse(f.Name, f.Data)
		if err != nil {
			return "", err
		}
		if err := s.Merge(frag); err != nil {
			return "", err
		}
	}
	return s.String(), nil
}

// Merge folds frag into s. On error s may be partly merged and must be
// discarded.
func (s *Schema) Merge(frag *Schema) error {
	for _, fb := range frag.Blocks {
		bb := s.Block(fb.Name)
		switch {
		case bb == nil:
			s.appendBlock(fb)
		case bb.Kind != fb.Kind:
			return &SchemaConflictError{Model: fb.Name, BaseType: bb.Kind, FragmentType: fb.Kind, Fragment: frag.Name}
		case bb.Kind == KindDatasource || bb.Kind == KindGenerator:
			// the project owns its datasource and generator settings
		default:
			if err := mergeBlock(bb, fb, frag.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// appendBlock adds a copy of fb after everything in s, separated from the
// preceding content by one blank line.
func (s *Schema) appendBlock(fb *Block) {
	nb := fb.clone()
	leading := slices.Clone(trimTrailingBlank(s.Trailer))
	s.Trailer = nil
	if len(s.Blocks) > 0 || len(leading) > 0 {
		leading = append(leading, "")
	}
	nb.Leading = append(leading, trimLeadingBlank(nb.Leading)...)
	s.Blocks = append(s.Blocks, nb)
}

func mergeBlock(bb, fb *Block, fragment string) error {
	indent := bb.indent()
	var fields, attrs []string
	added := make(map[string]bool)

	for _, line := range fb.Body {
		m, ok := parseMember(fb.Kind, line)
		if !ok || added[m.name] {
			continue
		}
		if existing, found := bb.member(m.name, m.attribute); found {
			if !m.attribute && existing.typ != m.typ {
				return &SchemaConflictError{
					Model:        bb.Name,
					Field:        m.name,
					BaseType:     existing.typ,
					FragmentType: m.typ,
					Fragment:     fragment,
				}
			}
			continue
		}

		added[m.name] = true
		text := indent + strings.TrimSpace(line)
		if m.attribute {
			attrs = append(attrs, text)
		} else {
			fields = append(fields, text)
		}
	}

	if len(fields) > 0 {
		bb.Body = slices.Insert(bb.Body, bb.fieldInsertIndex(), fields...)
	}
	if len(attrs) > 0 {
		bb.Body = slices.Insert(bb.Body, lastNonBlank(bb.Body)+1, attrs...)
	}
	return nil
}

// fieldInsertIndex places new fields after the last field, ahead of any
// trailing @@ attributes.
func (b *Block) fieldInsertIndex() int {
	lastField, firstAttr := -1, -1
	for i, line := range b.Body {
		m, ok := parseMember(b.Kind, line)
		switch {
		case !ok:
		case m.attribute:
			if firstAttr < 0 {
				firstAttr = i
			}
		default:
			lastField = i
		}
	}
	switch {
	case lastField >= 0:
		return lastField + 1
	case firstAttr >= 0:
		return firstAttr
	default:
		return lastNonBlank(b.Body) + 1
	}
}

func lastNonBlank(lines []string) int {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return i
		}
	}
	return -1
}

func readSource(path string) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("read schema: %w", err)
	}
	return Source{Name: path, Data: data}, nil
}
