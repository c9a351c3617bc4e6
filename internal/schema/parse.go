// SPDX-License-Identifier: MPL-2.0

package schema

import (
	"regexp"
	"slices"
	"strings"
)

const (
	KindModel      = "model"
	KindEnum       = "enum"
	KindType       = "type"
	KindView       = "view"
	KindDatasource = "datasource"
	KindGenerator  = "generator"
)

var blockHeader = regexp.MustCompile(`^\s*(model|enum|type|view|datasource|generator)\s+([A-Za-z_][A-Za-z0-9_]*)\s*\{\s*(//.*)?$`)

type (
	// Schema is a parsed schema file: blocks in source order plus the
	// comment and blank lines after the last block.
	Schema struct {
		Name    string
		Blocks  []*Block
		Trailer []string
	}

	// Block is one top-level declaration. Leading holds the comment and blank
	// lines directly above it. Body holds the raw lines between the header
	// and the closing brace.
	Block struct {
		Leading []string
		Kind    string
		Name    string
		Header  string
		Body    []string
		Close   string
	}

	// member is a parsed body line.
	member struct {
		// name is the field or enum value name, or the normalized text of a
		// block attribute.
		name      string
		typ       string
		attribute bool
	}
)

// Parse reads schema text. name labels the schema in errors.
func Parse(name string, src []byte) (*Schema, error) {
	text := strings.ReplaceAll(string(src), "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if strings.TrimSpace(text) == "" {
		lines = nil
	}

	s := &Schema{Name: name}
	var pending []string
	var cur *Block

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if cur != nil {
			if strings.HasPrefix(trimmed, "}") {
				cur.Close = line
				s.Blocks = append(s.Blocks, cur)
				cur = nil
				continue
			}
			cur.Body = append(cur.Body, line)
			continue
		}

		if m := blockHeader.FindStringSubmatch(line); m != nil {
			cur = &Block{Leading: pending, Kind: m[1], Name: m[2], Header: line}
			pending = nil
			continue
		}

		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "//"):
			pending = append(pending, line)
		case strings.Contains(trimmed, "{"):
			return nil, &ParseError{File: name, Line: i + 1, Msg: "unsupported block declaration (blocks must open with `kind Name {` on their own line)"}
		default:
			return nil, &ParseError{File: name, Line: i + 1, Msg: "unexpected text outside of a block"}
		}
	}

	if cur != nil {
		return nil, &ParseError{File: name, Line: len(lines), Msg: "block " + cur.Name + " is not closed"}
	}
	s.Trailer = pending
	return s, nil
}

// String renders the schema. The output ends with exactly one newline.
func (s *Schema) String() string {
	var out []string
	for _, b := range s.Blocks {
		out = append(out, b.Leading...)
		out = append(out, b.Header)
		out = append(out, b.Body...)
		out = append(out, b.Close)
	}
	out = append(out, s.Trailer...)
	out = trimTrailingBlank(out)
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// Block returns the block called name, or nil.
func (s *Schema) Block(name string) *Block {
	for _, b := range s.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

func (b *Block) clone() *Block {
	c := *b
	c.Leading = slices.Clone(b.Leading)
	c.Body = slices.Clone(b.Body)
	return &c
}

func (b *Block) members() []member {
	var out []member
	for _, line := range b.Body {
		if m, ok := parseMember(b.Kind, line); ok {
			out = append(out, m)
		}
	}
	return out
}

func (b *Block) member(name string, attribute bool) (member, bool) {
	for _, m := range b.members() {
		if m.name == name && m.attribute == attribute {
			return m, true
		}
	}
	return member{}, false
}

// indent returns the indentation of the first member line, or two spaces.
func (b *Block) indent() string {
	for _, line := range b.Body {
		if _, ok := parseMember(b.Kind, line); ok {
			return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		}
	}
	return "  "
}

func parseMember(kind, line string) (member, bool) {
	code := strings.TrimSpace(stripComment(line))
	if code == "" {
		return member{}, false
	}
	if strings.HasPrefix(code, "@@") {
		return member{name: strings.Join(strings.Fields(code), " "), attribute: true}, true
	}
	fields := strings.Fields(code)
	m := member{name: fields[0]}
	if kind != KindEnum && len(fields) > 1 {
		m.typ = fields[1]
	}
	return m, true
}

// stripComment removes a trailing // comment that is not inside a string.
func stripComment(line string) string {
	inString := false
	for i := 0; i < len(line); i++ {
		switch {
		case line[i] == '\\' && inString:
			i++
		case line[i] == '"':
			inString = !inString
		case !inString && strings.HasPrefix(line[i:], "//"):
			return line[:i]
		}
	}
	return line
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func trimLeadingBlank(lines []string) []string {
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return lines
}
