// Package coqui implements tts.Vendor against a locally-running Coqui TTS
// server, either a standard Coqui TTS server or a Coqui XTTS v2 server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters. The server's voice catalogue is not queried.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is
//     performed via POST /tts_to_audio/ with a JSON body.
//
// Both servers operate in batch mode (one HTTP call per render), matching
// tts.Vendor's synchronous contract directly — no accumulation is needed
// here since internal/ttsbuffer already hands Vendor complete, flush-ready
// text.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

var _ tts.Vendor = (*Vendor)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	ttsEndpoint     = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
	mediaType       = "audio/wav"
)

// APIMode selects which Coqui server API the vendor will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"
	// APIModeStandard targets the standard Coqui TTS server (/api/tts). This
	// is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Vendor.
type Option func(*Vendor)

// WithLanguage sets the BCP-47 language code sent to the TTS server.
func WithLanguage(lang string) Option {
	return func(v *Vendor) { v.language = lang }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Vendor) { v.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(v *Vendor) { v.apiMode = mode }
}

// Vendor implements tts.Vendor backed by a locally-running Coqui TTS server.
// Safe for concurrent use.
type Vendor struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
}

// New creates a Vendor targeting the TTS server at serverURL (e.g.
// "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Vendor, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	v := &Vendor{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize renders ssmlDoc to a WAV byte slice via the configured Coqui
// server. Coqui's HTTP API takes plain text, so any SSML markup emitted by
// internal/ssml is passed through verbatim as text — Coqui servers do not
// interpret it, but nor do they reject it, so phoneme hints degrade to
// literal text rather than failing the request.
func (v *Vendor) Synthesize(ctx context.Context, ssmlDoc string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	if voice.ID == "" && v.apiMode == APIModeXTTS {
		return nil, "", errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}
	if v.apiMode == APIModeStandard {
		return v.synthesizeStandard(ctx, ssmlDoc, voice)
	}
	return v.synthesizeXTTS(ctx, ssmlDoc, voice)
}

func (v *Vendor) synthesizeXTTS(ctx context.Context, text string, voice types.VoiceModel) ([]byte, string, error) {
	body := ttsRequest{Text: text, SpeakerWav: voice.ID, Language: v.language}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	return v.do(req)
}

func (v *Vendor) synthesizeStandard(ctx context.Context, text string, voice types.VoiceModel) ([]byte, string, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if v.language != "" {
		params.Set("language_id", v.language)
	}
	reqURL := v.serverURL + apiTTSEndpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	return v.do(req)
}

func (v *Vendor) do(req *http.Request) ([]byte, string, error) {
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, mediaType, nil
}
