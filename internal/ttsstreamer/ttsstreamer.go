// Package ttsstreamer implements component G: fan-out from the answer-flow
// orchestrator's per-language text stream into one internal/ttsbuffer per
// language, and the completion signal that lets the event sink know when
// TTS processing has fully drained.
package ttsstreamer

import (
	"context"
	"sync"

	"github.com/parlance-ai/answerstream/internal/ttsbuffer"
	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// AudioChunk is delivered to OnAudio for every flushed, rendered prefix.
type AudioChunk struct {
	Text      string
	Language  string
	Audio     []byte
	MediaType string
}

// VoiceResolver looks up the voice model to use for a language, falling
// back to the organisation's default primary language when no exact match
// exists. ok is false only when no usable voice model exists at all.
type VoiceResolver func(language string) (voice types.VoiceModel, resolvedLanguage string, ok bool)

// Streamer owns one Buffer per language and reports completion once every
// owned Buffer has drained. Safe for concurrent use.
type Streamer struct {
	resolveVoice VoiceResolver
	render       func(ctx context.Context, text, language string, voice types.VoiceModel) ([]byte, string, error)
	onAudio      func(AudioChunk)
	onError      func(error)
	auth         tts.Auth
	inert        bool

	mu       sync.Mutex
	buffers  map[string]*ttsbuffer.Buffer
	closing  bool
	pending  int
	onDone   func()
	doneOnce sync.Once
}

// Option configures a Streamer.
type Option func(*Streamer)

// WithInert marks the Streamer as inert: no TTS auth is configured, so
// every Append is a no-op and Close completes immediately. tts_processing
// is still registered and marked done by the caller so the stream never
// hangs waiting on TTS that will never run.
func WithInert() Option {
	return func(s *Streamer) { s.inert = true }
}

// New creates a Streamer. render performs the actual synthesis for one
// flushed prefix (normally internal/ttsclient.Client.Render bound to auth);
// onAudio receives every completed chunk; onError receives every render
// failure (component F's TTSFailed edge case: the failing prefix is
// dropped, the buffer keeps running); onDone fires exactly once, after
// Close and full drain.
func New(resolveVoice VoiceResolver, render func(ctx context.Context, text, language string, voice types.VoiceModel) ([]byte, string, error), onAudio func(AudioChunk), onError func(error), onDone func(), opts ...Option) *Streamer {
	s := &Streamer{
		resolveVoice: resolveVoice,
		render:       render,
		onAudio:      onAudio,
		onError:      onError,
		onDone:       onDone,
		buffers:      make(map[string]*ttsbuffer.Buffer),
	}
	for _, o := range opts {
		o(s)
	}
	if s.inert {
		s.onDone()
	}
	return s
}

// AddTextChunk routes fragment to the buffer for language, lazily
// constructing one if this is the first fragment seen for that language.
// A no-op in inert mode or after Close.
func (s *Streamer) AddTextChunk(text, language string) {
	if s.inert {
		return
	}
	buf := s.bufferFor(language)
	if buf == nil {
		return
	}
	buf.Append(text)
}

// FlushAll unconditionally flushes every owned buffer.
func (s *Streamer) FlushAll() {
	if s.inert {
		return
	}
	s.mu.Lock()
	bufs := make([]*ttsbuffer.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		bufs = append(bufs, b)
	}
	s.mu.Unlock()
	for _, b := range bufs {
		b.Flush()
	}
}

// Close closes every owned buffer. onDone fires once every buffer has
// drained. In inert mode onDone has already fired at construction, and
// Close is a no-op.
func (s *Streamer) Close() {
	if s.inert {
		return
	}
	s.mu.Lock()
	s.closing = true
	bufs := make([]*ttsbuffer.Buffer, 0, len(s.buffers))
	for _, b := range s.buffers {
		bufs = append(bufs, b)
	}
	noBuffers := len(bufs) == 0
	s.mu.Unlock()

	if noBuffers {
		s.fireDone()
		return
	}
	for _, b := range bufs {
		b.Close()
	}
}

func (s *Streamer) fireDone() {
	s.doneOnce.Do(s.onDone)
}

// bufferFor returns the buffer for language, constructing one on first use.
// Returns nil if no voice model is available for language even after
// falling back to the default primary language.
func (s *Streamer) bufferFor(language string) *ttsbuffer.Buffer {
	s.mu.Lock()
	if b, ok := s.buffers[language]; ok {
		s.mu.Unlock()
		return b
	}
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	voice, resolvedLanguage, ok := s.resolveVoice(language)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[language]; ok {
		return b
	}
	if s.closing {
		return nil
	}
	s.pending++
	b := ttsbuffer.New(
		func(ctx context.Context, text string) ([]byte, string, error) {
			return s.render(ctx, text, resolvedLanguage, voice)
		},
		func(prefix string, audio []byte, mediaType string) {
			s.onAudio(AudioChunk{Text: prefix, Language: resolvedLanguage, Audio: audio, MediaType: mediaType})
		},
		s.onError,
		func() {
			s.mu.Lock()
			s.pending--
			allDone := s.closing && s.pending == 0
			s.mu.Unlock()
			if allDone {
				s.fireDone()
			}
		},
	)
	s.buffers[language] = b
	return b
}
