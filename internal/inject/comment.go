// SPDX-License-Identifier: MPL-2.0

package inject

import (
	"path/filepath"
	"regexp"
	"strings"
)

const (
	anchorTag    = "kaven:anchor"
	anchorEndTag = "kaven:anchor-end"
	beginTag     = "kaven:begin"
	endTag       = "kaven:end"
)

type commentStyle struct {
	open  string
	close string
}

var (
	slashComment = commentStyle{open: "//"}
	hashComment  = commentStyle{open: "#"}
	blockComment = commentStyle{open: "/*", close: "*/"}
	htmlComment  = commentStyle{open: "<!--", close: "-->"}
	dashComment  = commentStyle{open: "--"}

	stylesByExt = map[string]commentStyle{
		".ts": slashComment, ".tsx": slashComment, ".js": slashComment, ".jsx": slashComment,
		".mjs": slashComment, ".cjs": slashComment, ".go": slashComment, ".java": slashComment,
		".kt": slashComment, ".swift": slashComment, ".c": slashComment, ".h": slashComment,
		".cpp": slashComment, ".cs": slashComment, ".rs": slashComment, ".dart": slashComment,
		".scala": slashComment, ".prisma": slashComment, ".scss": slashComment, ".jsonc": slashComment,

		".py": hashComment, ".rb": hashComment, ".sh": hashComment, ".bash": hashComment,
		".zsh": hashComment, ".yaml": hashComment, ".yml": hashComment, ".toml": hashComment,
		".env": hashComment, ".conf": hashComment, ".ini": hashComment, ".tf": hashComment,
		".r": hashComment, ".pl": hashComment,

		".css": blockComment, ".less": blockComment,

		".html": htmlComment, ".htm": htmlComment, ".xml": htmlComment, ".svg": htmlComment,
		".md": htmlComment, ".mdx": htmlComment, ".vue": htmlComment, ".svelte": htmlComment,

		".sql": dashComment, ".lua": dashComment, ".hs": dashComment,
	}

	stylesByName = map[string]commentStyle{
		"dockerfile": hashComment,
		"makefile":   hashComment,
		".gitignore": hashComment,
	}
)

// styleFor picks the comment syntax from the file name. Dotenv variants
// (".env.local") and unknown extensions fall back to "#" and "//".
func styleFor(name string) commentStyle {
	base := strings.ToLower(filepath.Base(name))
	if s, ok := stylesByName[base]; ok {
		return s
	}
	if base == ".env" || strings.HasPrefix(base, ".env.") {
		return hashComment
	}
	if s, ok := stylesByExt[filepath.Ext(base)]; ok {
		return s
	}
	return slashComment
}

func (s commentStyle) marker(text string) string {
	if s.close == "" {
		return s.open + " " + text
	}
	return s.open + " " + text + " " + s.close
}

// wrap surrounds body with begin/end sentinels for key, indenting the
// sentinels with indent.
func (s commentStyle) wrap(indent, key string, body []string) []string {
	out := make([]string, 0, len(body)+2)
	out = append(out, indent+s.marker(beginTag+" "+key))
	out = append(out, body...)
	out = append(out, indent+s.marker(endTag+" "+key))
	return out
}

// tagPattern matches "<tag> <name>" followed by whitespace or end of line,
// so "routes" does not match "routes-admin".
func tagPattern(tag, name string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(tag) + `[ \t]+` + regexp.QuoteMeta(name) + `(?:[ \t]|$)`)
}
