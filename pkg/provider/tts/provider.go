// Package tts defines the Vendor interface for text-to-speech backends.
//
// Unlike a streaming-audio design, a Vendor here is a synchronous
// SSML-to-audio renderer: internal/ttsbuffer, internal/ttsclient (component
// E) and internal/ttsstreamer already own buffering, caching, and pipelining
// between them, so the vendor boundary only needs to answer one request at a
// time.
//
// Implementations must be safe for concurrent use — the TTS buffer may have
// many in-flight renders against one Vendor simultaneously.
package tts

import (
	"context"

	"github.com/parlance-ai/answerstream/pkg/types"
)

// Auth carries per-organisation vendor credentials. Fields not used by a
// given vendor are ignored.
type Auth struct {
	APIKey string
	Region string
}

// Vendor is the abstraction over any TTS backend.
type Vendor interface {
	// Synthesize renders ssmlDoc to audio using voice and auth, honouring
	// ctx cancellation/deadline. Returns the raw audio bytes and an IANA
	// media type (e.g. "audio/mpeg").
	Synthesize(ctx context.Context, ssmlDoc string, voice types.VoiceModel, auth Auth) (audio []byte, mediaType string, err error)
}
