// Package elevenlabs implements tts.Vendor over the ElevenLabs streaming
// WebSocket API, adapted to a single synchronous render per call: one text
// payload goes in, one concatenated PCM buffer comes out.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
	mediaType        = "audio/pcm"
)

// Option is a functional option for configuring the Vendor.
type Option func(*Vendor)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(v *Vendor) { v.model = model }
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(v *Vendor) { v.outputFormat = format }
}

// Vendor implements tts.Vendor backed by the ElevenLabs streaming API.
type Vendor struct {
	model        string
	outputFormat string
}

var _ tts.Vendor = (*Vendor)(nil)

// New creates a new ElevenLabs Vendor.
func New(opts ...Option) *Vendor {
	v := &Vendor{model: defaultModel, outputFormat: defaultOutputFmt}
	for _, o := range opts {
		o(v)
	}
	return v
}

type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize renders ssmlDoc — treated as plain narration text, since the
// ElevenLabs streaming input protocol does not accept full SSML documents —
// to a single concatenated PCM buffer.
func (v *Vendor) Synthesize(ctx context.Context, ssmlDoc string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	if voice.ID == "" {
		return nil, "", errors.New("elevenlabs: voice.ID must not be empty")
	}
	if auth.APIKey == "" {
		return nil, "", errors.New("elevenlabs: auth.APIKey must not be empty")
	}

	wsURL := fmt.Sprintf(wsEndpointFmt, voice.ID, v.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	boi := boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: auth.APIKey, OutputFormat: v.outputFormat}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	msg := textMessage{Text: ssmlDoc}
	msgBytes, _ := json.Marshal(msg)
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send text: %w", err)
	}
	flushBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		return nil, "", fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var out []byte
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, "", fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			out = append(out, pcm...)
		}
		if resp.IsFinal {
			break
		}
	}
	return out, mediaType, nil
}
