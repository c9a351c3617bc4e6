// SPDX-License-Identifier: MPL-2.0

package inject

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bychrisr/kaven-cli/pkg/kavenmod"
)

type (
	// Result describes the outcome of one injection.
	Result struct {
		File string
		Key  string
		// Applied is false when the block was already present.
		Applied bool
		// Created is true when the file did not exist and was created.
		Created bool
		// Replaced is true for replace patches; Original then holds the
		// lines the patch rewrote.
		Replaced bool
		Original string
	}

	// Reversal is what Remove needs to undo an applied injection.
	Reversal struct {
		Key      string
		Replaced bool
		Original string
		Created  bool
	}
)

// Reversal returns the information needed to undo r.
func (r Result) Reversal() Reversal {
	return Reversal{Key: r.Key, Replaced: r.Replaced, Original: r.Original, Created: r.Created}
}

// Plan computes the new content of the file called name after applying inj.
// content is nil when the file does not exist. Plan does no I/O, so the
// installer can run a whole module's injections in memory before touching
// the project.
func Plan(name string, content []byte, inj kavenmod.Injection) ([]byte, Result, error) {
	key := inj.Key()
	res := Result{File: name, Key: key}
	style := styleFor(name)

	if !inj.Kind.Supports(inj.Strategy) {
		return nil, res, fmt.Errorf("%s: strategy %q is not valid for %q injections", name, inj.Strategy, inj.Kind)
	}

	if content == nil {
		if !inj.CreateIfMissing {
			return nil, res, &TargetNotFoundError{File: name}
		}
		doc := &document{}
		doc.insert(0, style.wrap("", key, splitContent(inj.Content)))
		res.Applied, res.Created = true, true
		return []byte(doc.String()), res, nil
	}

	doc := parseDocument(string(content))
	if _, _, found := doc.block(key); found {
		return content, res, nil
	}

	var err error
	switch inj.Kind {
	case kavenmod.KindAnchor:
		err = doc.applyAnchor(name, style, key, inj)
	case kavenmod.KindPatch:
		err = doc.applyPatch(name, style, key, inj, &res)
	}
	if err != nil {
		return nil, res, err
	}

	res.Applied = true
	return []byte(doc.String()), res, nil
}

func (d *document) applyAnchor(name string, style commentStyle, key string, inj kavenmod.Injection) error {
	starts := d.find(anchorTag, inj.Anchor)
	switch {
	case len(starts) == 0:
		return &AnchorNotFoundError{File: name, Anchor: inj.Anchor}
	case len(starts) > 1:
		return &AmbiguousPatchError{File: name, Locator: "anchor " + inj.Anchor, Matches: len(starts)}
	}
	start := starts[0]

	end := -1
	for _, i := range d.find(anchorEndTag, inj.Anchor) {
		if i > start {
			end = i
			break
		}
	}
	if end < 0 {
		return &AnchorNotFoundError{File: name, Anchor: inj.Anchor, MissingEnd: true}
	}

	at, indent := start+1, leadingSpace(d.lines[start])
	if inj.Strategy == kavenmod.StrategyAppend {
		at, indent = end, leadingSpace(d.lines[end])
	}
	d.insert(at, style.wrap(indent, key, indentLines(indent, splitContent(inj.Content))))
	return nil
}

func (d *document) applyPatch(name string, style commentStyle, key string, inj kavenmod.Injection, res *Result) error {
	if len(d.lines) == 0 {
		return &PatternNotFoundError{File: name, Pattern: inj.Pattern, Regex: inj.Regex}
	}
	text := d.text()
	matches, err := findMatches(text, inj)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	switch {
	case len(matches) == 0:
		return &PatternNotFoundError{File: name, Pattern: inj.Pattern, Regex: inj.Regex}
	case len(matches) > 1:
		return &AmbiguousPatchError{File: name, Locator: "pattern " + strconv.Quote(inj.Pattern), Matches: len(matches)}
	}

	mStart, mEnd := matches[0][0], matches[0][1]
	first := lineAt(text, mStart)
	last := first
	if mEnd > mStart {
		last = lineAt(text, mEnd-1)
	}
	indent := leadingSpace(d.lines[first])

	switch inj.Strategy {
	case kavenmod.StrategyBefore:
		d.insert(first, style.wrap(indent, key, indentLines(indent, splitContent(inj.Content))))
	case kavenmod.StrategyAfter:
		indent = leadingSpace(d.lines[last])
		d.insert(last+1, style.wrap(indent, key, indentLines(indent, splitContent(inj.Content))))
	case kavenmod.StrategyReplace:
		// The rewritten lines run from the first matched line to the line
		// holding the byte right after the match.
		tail := lineAt(text, mEnd)
		regionStart, regionEnd := d.lineStart(first), d.lineEnd(tail)
		res.Replaced = true
		res.Original = text[regionStart:regionEnd]
		rewritten := text[regionStart:mStart] + inj.Content + text[mEnd:regionEnd]
		block := style.wrap(indent, key, strings.Split(rewritten, "\n"))
		d.lines = slices.Replace(d.lines, first, tail+1, block...)
	}
	return nil
}

// findMatches returns the spans of every non-overlapping match of the
// injection's pattern.
func findMatches(text string, inj kavenmod.Injection) ([][]int, error) {
	if inj.Regex {
		re, err := regexp.Compile(inj.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", inj.Pattern, err)
		}
		return re.FindAllStringIndex(text, -1), nil
	}

	if inj.Pattern == "" {
		return nil, nil
	}
	var out [][]int
	for off := 0; off <= len(text); {
		i := strings.Index(text[off:], inj.Pattern)
		if i < 0 {
			break
		}
		start := off + i
		out = append(out, []int{start, start + len(inj.Pattern)})
		off = start + len(inj.Pattern)
	}
	return out, nil
}

// RemoveBlock deletes the sentinel block for rev.Key from content, restoring
// the original lines of a replace patch. removed is false when no block for
// the key exists.
func RemoveBlock(name string, content []byte, rev Reversal) (_ []byte, removed bool, _ error) {
	doc := parseDocument(string(content))
	begin, end, found := doc.block(rev.Key)
	if !found {
		return content, false, nil
	}
	if end < 0 {
		return nil, false, &UnterminatedBlockError{File: name, Key: rev.Key}
	}

	var restore []string
	if rev.Replaced {
		restore = strings.Split(rev.Original, "\n")
	}
	doc.lines = slices.Replace(doc.lines, begin, end+1, restore...)
	return []byte(doc.String()), true, nil
}
