// Package mock provides a test double for the tts.Vendor interface.
//
// Use Vendor to feed a controlled audio response to consumers and to verify
// that the correct SSML document, voice, and auth were passed through.
//
//	v := &mock.Vendor{Audio: []byte("audio-bytes"), MediaType: "audio/mpeg"}
//	audio, mt, _ := v.Synthesize(ctx, ssml, voice, auth)
package mock

import (
	"context"
	"sync"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	SSMLDoc string
	Voice   types.VoiceModel
	Auth    tts.Auth
}

// Vendor is a mock implementation of tts.Vendor.
type Vendor struct {
	mu sync.Mutex

	// Audio and MediaType are returned by Synthesize when Err is nil.
	Audio     []byte
	MediaType string
	// Err, if non-nil, is returned as the error from Synthesize instead.
	Err error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

var _ tts.Vendor = (*Vendor)(nil)

// Synthesize records the call and returns the configured Audio/MediaType/Err.
func (v *Vendor) Synthesize(_ context.Context, ssmlDoc string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = append(v.Calls, SynthesizeCall{SSMLDoc: ssmlDoc, Voice: voice, Auth: auth})
	if v.Err != nil {
		return nil, "", v.Err
	}
	return v.Audio, v.MediaType, nil
}

// Reset clears all recorded calls. Thread-safe.
func (v *Vendor) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Calls = nil
}
