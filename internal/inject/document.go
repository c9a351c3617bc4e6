// SPDX-License-Identifier: MPL-2.0

package inject

import (
	"slices"
	"strings"
)

// document is a file split into lines. CRLF files are normalized to LF while
// editing and converted back by String.
type document struct {
	lines        []string
	finalNewline bool
	crlf         bool
}

func parseDocument(s string) *document {
	d := &document{crlf: strings.Contains(s, "\r\n")}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if s == "" {
		return d
	}
	d.finalNewline = strings.HasSuffix(s, "\n")
	d.lines = strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	return d
}

func (d *document) String() string {
	if len(d.lines) == 0 {
		return ""
	}
	s := strings.Join(d.lines, "\n")
	if d.finalNewline {
		s += "\n"
	}
	if d.crlf {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	return s
}

// text is the LF-joined content without the final newline. Byte offsets into
// it map onto lines through lineAt and lineStart.
func (d *document) text() string {
	return strings.Join(d.lines, "\n")
}

func (d *document) lineStart(i int) int {
	off := 0
	for _, l := range d.lines[:i] {
		off += len(l) + 1
	}
	return off
}

func (d *document) lineEnd(i int) int {
	return d.lineStart(i) + len(d.lines[i])
}

func lineAt(text string, off int) int {
	return strings.Count(text[:off], "\n")
}

func (d *document) find(tag, name string) []int {
	re := tagPattern(tag, name)
	var idx []int
	for i, l := range d.lines {
		if re.MatchString(l) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (d *document) insert(at int, block []string) {
	d.lines = slices.Insert(d.lines, at, block...)
	if len(d.lines) == len(block) {
		d.finalNewline = true
	}
}

// block returns the line range [begin, end] of the sentinel block for key.
// found is false when no begin sentinel exists; end is -1 when the begin
// sentinel is not followed by an end sentinel.
func (d *document) block(key string) (begin, end int, found bool) {
	begins := d.find(beginTag, key)
	if len(begins) == 0 {
		return -1, -1, false
	}
	begin = begins[0]
	endRe := tagPattern(endTag, key)
	for i := begin + 1; i < len(d.lines); i++ {
		if endRe.MatchString(d.lines[i]) {
			return begin, i, true
		}
	}
	return begin, -1, true
}

func leadingSpace(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}

// splitContent turns injected content into lines, dropping one trailing
// newline.
func splitContent(s string) []string {
	s = strings.TrimSuffix(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func indentLines(indent string, lines []string) []string {
	if indent == "" {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			out[i] = l
			continue
		}
		out[i] = indent + l
	}
	return out
}
