package resilience

import (
	"context"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// TTSFallback implements [tts.Vendor] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Vendor]
}

// Compile-time interface assertion.
var _ tts.Vendor = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Vendor, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS vendor as a fallback.
func (f *TTSFallback) AddFallback(name string, vendor tts.Vendor) {
	f.group.AddFallback(name, vendor)
}

// Synthesize renders ssmlDoc against the first healthy vendor, trying
// fallbacks in registration order.
func (f *TTSFallback) Synthesize(ctx context.Context, ssmlDoc string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	type result struct {
		audio     []byte
		mediaType string
	}
	r, err := ExecuteWithResult(f.group, func(v tts.Vendor) (result, error) {
		audio, mediaType, err := v.Synthesize(ctx, ssmlDoc, voice, auth)
		return result{audio: audio, mediaType: mediaType}, err
	})
	if err != nil {
		return nil, "", err
	}
	return r.audio, r.mediaType, nil
}
