package review

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// tagPattern matches one well-formed start, end or self-closing tag.
var tagPattern = regexp.MustCompile(`</?([A-Za-z][A-Za-z0-9]*)(?:\s+[A-Za-z_:][-A-Za-z0-9_:.]*(?:\s*=\s*(?:"[^"]*"|'[^']*'|[^\s"'<>=]+))?)*\s*/?>`)

// markupTags are the elements that show up in exported review text.
// Anything else in angle brackets is treated as prose.
var markupTags = map[atom.Atom]bool{
	atom.A: true, atom.B: true, atom.Big: true, atom.Blockquote: true,
	atom.Br: true, atom.Cite: true, atom.Code: true, atom.Div: true,
	atom.Em: true, atom.Font: true, atom.Hr: true, atom.I: true,
	atom.Li: true, atom.Ol: true, atom.P: true, atom.Pre: true,
	atom.Q: true, atom.S: true, atom.Small: true, atom.Span: true,
	atom.Strike: true, atom.Strong: true, atom.Sub: true, atom.Sup: true,
	atom.Tt: true, atom.U: true, atom.Ul: true,
}

// CleanText removes known markup tags, decodes entities and trims. Text
// that merely contains '<' or '&' is left intact. Training and scoring both
// pass review text through it.
func CleanText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	s = tagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		name := tagPattern.FindStringSubmatch(tag)[1]
		if markupTags[atom.Lookup([]byte(strings.ToLower(name)))] {
			return " "
		}
		return tag
	})
	return strings.TrimSpace(html.UnescapeString(s))
}
