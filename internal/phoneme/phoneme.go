// Package phoneme applies lexicon-driven pronunciation substitutions to a
// text fragment before it is wrapped in SSML.
//
// Substitution is a pure, deterministic left-to-right, non-overlapping scan:
// at each position the first rule (in table order) whose literal match
// applies wins. Runes not consumed by a match are untrusted caller text and
// are XML-escaped on the way out, since the result is embedded directly into
// an SSML document by internal/ssml.Build.
package phoneme

import (
	"strings"
)

// Rule is a single lexicon entry. Match is compared literally against the
// input; IPA and Substitute are mutually exclusive replacement modes — if
// IPA is set the match is wrapped in the vendor's phoneme markup, otherwise
// Substitute (if non-empty) replaces the match verbatim. A rule with neither
// set is a no-op and is skipped.
type Rule struct {
	Match      string
	IPA        string
	Substitute string
}

// Table is a compiled, ordered phoneme lexicon. Zero value is an empty
// table (Transform becomes an identity function modulo bracket/illegal-char
// stripping and XML-escaping).
type Table struct {
	rules []Rule
}

// NewTable compiles rules, preserving their order (first-match-wins
// priority). The input slice is copied; later mutation of rules does not
// affect the returned Table.
func NewTable(rules []Rule) *Table {
	t := &Table{rules: make([]Rule, len(rules))}
	copy(t.rules, rules)
	return t
}

// ipaOpen and ipaClose wrap a matched span in vendor phoneme markup. This
// mirrors the SSML <phoneme> element's alphabet="ipa" ph="..." form but is
// applied here so the SSML builder only needs to XML-escape, never
// re-interpret, transformer output.
const (
	ipaOpen  = `<phoneme alphabet="ipa" ph="`
	ipaClose = `</phoneme>`
)

// Transform applies bracket stripping, illegal-character removal, and
// lexicon substitution to text, in that order. illegal is a set of runes to
// drop unconditionally (e.g. control characters the TTS vendor rejects).
// Every rune not consumed by a rule match is XML-escaped before being
// written out, since it originates from the caller's plain text and the
// result is embedded verbatim into an SSML document. The result is
// deterministic for a given (text, table, illegal) input.
func (t *Table) Transform(text string, illegal map[rune]struct{}) string {
	text = stripBracketedAsides(text)
	text = stripIllegal(text, illegal)
	if t == nil || len(t.rules) == 0 {
		return escapeXML(text)
	}

	var out strings.Builder
	out.Grow(len(text))

	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if idx, matchLen := t.matchLiteralAt(runes, i); idx >= 0 {
			out.WriteString(t.render(idx, string(runes[i:i+matchLen])))
			i += matchLen
			continue
		}
		writeEscapedRune(&out, runes[i])
		i++
	}
	return out.String()
}

// render produces the replacement text for a match against rules[idx],
// given the original matched span (used verbatim when the rule has neither
// IPA nor Substitute set, and always used as the phoneme text under IPA).
// The matched span and Substitute both come from configured lexicon
// entries, not caller text, so they are trusted markup and are not escaped.
func (t *Table) render(idx int, matched string) string {
	r := t.rules[idx]
	switch {
	case r.IPA != "":
		var b strings.Builder
		b.WriteString(ipaOpen)
		b.WriteString(r.IPA)
		b.WriteString(`">`)
		b.WriteString(matched)
		b.WriteString(ipaClose)
		return b.String()
	case r.Substitute != "":
		return r.Substitute
	default:
		return matched
	}
}

// matchLiteralAt returns the index of the first rule (in table order) whose
// Match is a literal prefix of runes starting at i, and the length of that
// match in runes. Returns (-1, 0) if no rule matches.
func (t *Table) matchLiteralAt(runes []rune, i int) (int, int) {
	for ri, r := range t.rules {
		if r.Match == "" {
			continue
		}
		mr := []rune(r.Match)
		if i+len(mr) > len(runes) {
			continue
		}
		if string(runes[i:i+len(mr)]) == r.Match {
			return ri, len(mr)
		}
	}
	return -1, 0
}

// stripBracketedAsides removes every `[...]` span, including the brackets.
// Unterminated brackets are left untouched (nothing to close), matching the
// conservative behaviour of a single-pass scanner.
func stripBracketedAsides(text string) string {
	var out strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			out.WriteRune(r)
		}
	}
	return out.String()
}

// stripIllegal removes every rune present in illegal.
func stripIllegal(text string, illegal map[rune]struct{}) string {
	if len(illegal) == 0 {
		return text
	}
	var out strings.Builder
	out.Grow(len(text))
	for _, r := range text {
		if _, bad := illegal[r]; bad {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// escapeXML escapes every rune of s for embedding in an SSML text node.
func escapeXML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		writeEscapedRune(&b, r)
	}
	return b.String()
}

// writeEscapedRune writes r to b, XML-escaping the three characters that
// would otherwise break well-formedness of the surrounding SSML document.
func writeEscapedRune(b *strings.Builder, r rune) {
	switch r {
	case '&':
		b.WriteString("&amp;")
	case '<':
		b.WriteString("&lt;")
	case '>':
		b.WriteString("&gt;")
	default:
		b.WriteRune(r)
	}
}
