// Package ttsclient implements component E: a synchronous adapter that
// turns a plain-text fragment into audio, consulting the audio cache first
// and falling back to phoneme transformation, SSML construction, and a
// vendor render on a miss.
package ttsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/parlance-ai/answerstream/internal/audiocache"
	"github.com/parlance-ai/answerstream/internal/observe"
	"github.com/parlance-ai/answerstream/internal/phoneme"
	"github.com/parlance-ai/answerstream/internal/ssml"
	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// ErrTTSFailed wraps a vendor synthesis failure. Callers should map this to
// the TTSFailed error kind: drop the prefix, emit an error event, and keep
// the buffer running.
var ErrTTSFailed = errors.New("ttsclient: vendor synthesis failed")

const renderTimeout = 20 * time.Second

// Client renders plain text to audio for a single voice model, backed by a
// vendor and an audio cache. Safe for concurrent use.
type Client struct {
	vendor        tts.Vendor
	cache         *audiocache.Cache
	phonemeTable  *phoneme.Table
	illegalRunes  map[rune]struct{}
	caseSensitive bool   // true if the vendor treats voice text case-sensitively
	mediaType     string // the vendor's fixed output media type, used for cache keying
	metrics       *observe.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithPhonemeTable installs a phoneme lexicon applied before SSML
// construction. A nil table (the default) leaves text untransformed.
func WithPhonemeTable(t *phoneme.Table) Option {
	return func(c *Client) { c.phonemeTable = t }
}

// WithIllegalRunes sets the control-character set stripped before
// synthesis.
func WithIllegalRunes(illegal map[rune]struct{}) Option {
	return func(c *Client) { c.illegalRunes = illegal }
}

// WithCaseSensitiveVoice marks the vendor's voice as case-sensitive, so
// normalisation does not lowercase input text. Most vendor voices are
// case-insensitive; this is an explicit opt-out.
func WithCaseSensitiveVoice() Option {
	return func(c *Client) { c.caseSensitive = true }
}

// WithMediaType declares the vendor's fixed output media type (e.g.
// "audio/mpeg", "audio/wav"), used to derive cache keys before a vendor
// call has run. A given Client is bound to one vendor, whose output format
// is stable per deployment, so this is a configuration constant rather than
// something discovered per-call.
func WithMediaType(mediaType string) Option {
	return func(c *Client) { c.mediaType = mediaType }
}

// WithMetrics installs the process-wide observability instruments. Without
// this option cache lookups and vendor calls go unrecorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New creates a Client rendering through vendor, backed by cache.
func New(vendor tts.Vendor, cache *audiocache.Cache, opts ...Option) *Client {
	c := &Client{vendor: vendor, cache: cache, mediaType: "audio/mpeg"}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Render implements component E's contract: normalise plainText, consult
// the cache, and on a miss build SSML and call the vendor. On vendor
// success the result is asynchronously written to the cache; on vendor
// failure the cache is left untouched and ErrTTSFailed is returned.
func (c *Client) Render(ctx context.Context, plainText, language string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	normalised := Normalise(plainText, c.caseSensitive)
	key := audiocache.Key(normalised, language, voice.ID, c.mediaType)

	obj, hit := c.cache.Lookup(ctx, key)
	if c.metrics != nil {
		c.metrics.RecordAudioCacheLookup(ctx, hit)
	}
	if hit {
		return obj.Bytes, obj.MediaType, nil
	}

	transformed := normalised
	if c.phonemeTable != nil {
		transformed = c.phonemeTable.Transform(normalised, c.illegalRunes)
	} else {
		transformed = ssml.EscapeText(normalised)
	}

	doc := ssml.Build(transformed, ssml.Options{
		Language:   language,
		VoiceID:    voice.ID,
		PitchShift: voice.PitchShift,
	})

	renderCtx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	renderStart := time.Now()
	audio, mediaType, err := c.vendor.Synthesize(renderCtx, doc, voice, auth)
	if c.metrics != nil {
		c.metrics.TTSDuration.Record(ctx, time.Since(renderStart).Seconds())
		status := "success"
		if err != nil {
			status = "error"
			c.metrics.RecordProviderError(ctx, "tts", "synthesize")
		}
		c.metrics.RecordProviderRequest(ctx, "tts", "synthesize", status)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTTSFailed, err)
	}

	c.cache.Store(key, audiocache.Object{Bytes: audio, MediaType: mediaType})
	return audio, mediaType, nil
}

// Normalise strips leading and trailing whitespace, collapses internal whitespace runs
// to a single space, and — for vendors whose voice matching is
// case-insensitive — lowercases the result, so that cache keys for
// equivalent utterances coincide.
func Normalise(text string, caseSensitive bool) string {
	fields := strings.FieldsFunc(text, unicode.IsSpace)
	joined := strings.Join(fields, " ")
	if caseSensitive {
		return joined
	}
	return strings.ToLower(joined)
}
