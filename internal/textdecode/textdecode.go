// Package textdecode normalises inbound transcript and template bytes to
// UTF-8 text before they enter the pipeline.
//
// It intentionally does nothing clever: well-formed UTF-8 is passed through
// unchanged, and each invalid byte sequence becomes the Unicode replacement
// character. No language-specific byte-repair table exists
// here — see DESIGN.md for why the legacy Thai mojibake fix-ups are not
// replicated.
package textdecode

import "unicode/utf8"

// Decode validates that b is well-formed UTF-8 and returns it as a string.
// Invalid byte sequences are each replaced with the Unicode replacement
// character (U+FFFD) by converting through []rune; a plain string(b)
// conversion would keep them as they are. No repair heuristics are applied.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return string([]rune(string(b)))
}

// Valid reports whether b is well-formed UTF-8.
func Valid(b []byte) bool {
	return utf8.Valid(b)
}
