// Package ssml builds the speech-synthesis-markup-language documents sent to
// the TTS vendor.
//
// Builder output must be byte-stable for equal inputs: it is hashed as part
// of the audio-cache key (see internal/audiocache), so any nondeterminism
// here — map iteration, time-based content, whitespace drift — would
// silently defeat caching.
package ssml

import (
	"strconv"
	"strings"
)

// Options configures a single SSML document.
type Options struct {
	// Language is the BCP-47 language tag applied to the root element.
	Language string

	// VoiceID selects the vendor voice.
	VoiceID string

	// PitchShift, when non-nil, adds a <prosody pitch="..."> wrapper around
	// the voice body with rate held at "medium".
	PitchShift *float64
}

// Build wraps transformedText — the output of internal/phoneme.Transform,
// which may already contain vendor phoneme markup — into an SSML document.
// Only the caller-supplied text nodes are unescaped; transformer-emitted
// markup is never itself escaped because it is trusted, well-formed
// vendor markup constructed by this codebase, not user input.
//
// Build is a pure function: equal (transformedText, opts) always produce
// byte-identical output.
func Build(transformedText string, opts Options) string {
	var b strings.Builder
	b.WriteString(`<speak version="1.0" xmlns="http://www.w3.org/2001/10/synthesis" xml:lang="`)
	b.WriteString(escapeAttr(opts.Language))
	b.WriteString(`">`)

	b.WriteString(`<voice name="`)
	b.WriteString(escapeAttr(opts.VoiceID))
	b.WriteString(`">`)

	if opts.PitchShift != nil {
		b.WriteString(`<prosody pitch="`)
		b.WriteString(formatPitch(*opts.PitchShift))
		b.WriteString(`" rate="medium">`)
		b.WriteString(transformedText)
		b.WriteString(`</prosody>`)
	} else {
		b.WriteString(transformedText)
	}

	b.WriteString(`</voice></speak>`)
	return b.String()
}

// formatPitch renders a pitch-shift value (semitones, positive or negative)
// in the vendor's signed-percent-like form, e.g. "+3.50st" / "-2.00st".
func formatPitch(shift float64) string {
	sign := "+"
	if shift < 0 {
		sign = "-"
		shift = -shift
	}
	return sign + strconv.FormatFloat(shift, 'f', 2, 64) + "st"
}

// escapeAttr XML-escapes text destined for an attribute value.
func escapeAttr(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EscapeText XML-escapes an untrusted text node. Exposed so callers that
// build transformedText themselves (rather than via internal/phoneme) can
// escape user-supplied fragments before embedding them, while leaving
// vendor markup produced by this codebase untouched.
func EscapeText(s string) string {
	var b strings.Builder
	for _, r := range s {
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
	return b.String()
}
