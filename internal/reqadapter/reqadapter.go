// Package reqadapter implements component J: it validates an inbound wire
// request, resolves the organisation's localisation, and constructs H
// (internal/eventsink.Sink), G (internal/ttsstreamer.Streamer, when TTS is
// configured), and I (internal/answerflow.Orchestrator) for that request.
package reqadapter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/parlance-ai/answerstream/internal/answerflow"
	"github.com/parlance-ai/answerstream/internal/audiocache"
	"github.com/parlance-ai/answerstream/internal/config"
	"github.com/parlance-ai/answerstream/internal/eventsink"
	"github.com/parlance-ai/answerstream/internal/observe"
	"github.com/parlance-ai/answerstream/internal/ttsclient"
	"github.com/parlance-ai/answerstream/internal/ttsstreamer"
	"github.com/parlance-ai/answerstream/pkg/provider/llm"
	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// sinkQueueDepth is the output queue depth for every request-scoped sink.
const sinkQueueDepth = 64

// requestComponent is the completion-registry name used only for the
// reject-at-J path: register, emit error, mark
// done, so the stream is a well-formed error+complete pair instead of a
// half-built request that never closes.
const requestComponent = "request"

// HTTP-status-shaped result codes component J hands back to the transport,
// kept as plain ints so this package stays independent of net/http.
const (
	StatusOK         = 200
	StatusBadRequest = 400
)

// WireMessage is one chat-history turn as received on the wire.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// WireRequest is the JSON body of POST /api/v1/answer-sse.
type WireRequest struct {
	Transcript           string        `json:"transcript"`
	Language             string        `json:"language"`
	Audio                string        `json:"audio,omitempty"`
	OrgID                string        `json:"org_id"`
	ConfigID             string        `json:"config_id"`
	ChatHistory          []WireMessage `json:"chat_history,omitempty"`
	Keywords             *[]string     `json:"keywords,omitempty"`
	TranscriptConfidence *float64      `json:"transcript_confidence,omitempty"`
	GenerateAnswer       *bool         `json:"generate_answer,omitempty"`
}

// LLMFactory constructs an LLM provider for a (providerName, model) pair,
// resolving the localisation's "groq/" prefix routing rule. Bound to
// internal/config.Registry.CreateLLM by the caller.
type LLMFactory func(providerName, model string) (llm.Provider, error)

// Result is what component J hands to the HTTP transport: the sink to
// drain as an SSE stream, and the status code the response should open
// with (200, or 400 for a request rejected before any pipeline work runs).
type Result struct {
	Sink       *eventsink.Sink
	StatusCode int
}

// Adapter is component J. One Adapter is constructed at startup and shared
// across all requests; it holds the process-wide dependencies each request
// needs projected into an Orchestrator.
type Adapter struct {
	cfg atomic.Pointer[config.Config]

	validator validator.Provider
	km        answerflow.KMSearcher

	defaultGenerator llm.Provider
	llmFactory       LLMFactory
	llmCache         sync.Map // "provider/model" -> llm.Provider

	fetcher answerflow.TemplateFetcher

	ttsVendor  tts.Vendor
	audioCache *audiocache.Cache

	metrics *observe.Metrics
}

// New constructs an Adapter. llmFactory may be nil, in which case every
// request uses defaultGenerator regardless of its localisation's
// generator_model. ttsVendor may be nil to disable TTS process-wide.
func New(
	cfg *config.Config,
	validatorProvider validator.Provider,
	km answerflow.KMSearcher,
	defaultGenerator llm.Provider,
	llmFactory LLMFactory,
	fetcher answerflow.TemplateFetcher,
	ttsVendor tts.Vendor,
	audioCache *audiocache.Cache,
	metrics *observe.Metrics,
) *Adapter {
	a := &Adapter{
		validator:        validatorProvider,
		km:               km,
		defaultGenerator: defaultGenerator,
		llmFactory:       llmFactory,
		fetcher:          fetcher,
		ttsVendor:        ttsVendor,
		audioCache:       audioCache,
		metrics:          metrics,
	}
	a.cfg.Store(cfg)
	return a
}

// UpdateConfig swaps in a newly (hot-)reloaded config for subsequent
// requests. Safe to call concurrently with HandleRequest. Wired as the
// callback for internal/config.Watcher.
func (a *Adapter) UpdateConfig(cfg *config.Config) {
	a.cfg.Store(cfg)
}

// HandleRequest validates wire, resolves its localisation, and — on
// success — starts the answer-flow pipeline in a background goroutine and
// returns its sink for the transport to stream. On validation failure it
// returns a sink that already carries a single error+complete pair and a
// 400 status.
func (a *Adapter) HandleRequest(ctx context.Context, wire WireRequest) Result {
	if err := validateWire(wire); err != nil {
		return a.badRequest(err)
	}

	cfg := a.cfg.Load()
	org := cfg.FindOrganisation(wire.OrgID)
	if org == nil {
		return a.badRequest(fmt.Errorf("unknown org_id %q", wire.OrgID))
	}
	appCfg := org.FindAppConfig(wire.ConfigID)
	if appCfg == nil {
		return a.badRequest(fmt.Errorf("unknown config_id %q for org_id %q", wire.ConfigID, wire.OrgID))
	}
	loc := appCfg.FindLocalisation(wire.Language, cfg.DefaultPrimaryLanguage)
	if loc == nil {
		return a.badRequest(fmt.Errorf("no localisation for language %q and no default_primary_language fallback", wire.Language))
	}

	audioBytes, err := decodeAudio(wire.Audio)
	if err != nil {
		return a.badRequest(err)
	}
	chatHistory := convertChatHistory(wire.ChatHistory)

	sink := eventsink.New(sinkQueueDepth)
	generator := a.resolveGenerator(*loc)
	streamer := a.buildStreamer(sink, appCfg, cfg.DefaultPrimaryLanguage)
	orch := answerflow.New(sink, a.validator, a.km, generator, a.fetcher, streamer, a.metrics)

	req := answerflow.Request{
		Transcript:  wire.Transcript,
		Language:    wire.Language,
		Audio:       audioBytes,
		ChatHistory: chatHistory,
		Keywords:    wire.Keywords,
	}
	answerLoc := answerflow.Localisation{
		SystemPrompt:                 loc.SystemPrompt,
		GeneratorFormatTextPromptURL: loc.GeneratorFormatTextPromptURL,
		ValidatorPrompts: validator.Prompts{
			SystemPromptTemplateURL:    loc.ValidatorSystemPromptTemplateURL,
			TranscriptPromptTemplateURL: loc.ValidatorTranscriptPromptTemplateURL,
		},
		UseSectionedOutput: loc.UseSectionedOutput,
	}

	go orch.Run(ctx, req, answerLoc)

	return Result{Sink: sink, StatusCode: StatusOK}
}

func (a *Adapter) badRequest(err error) Result {
	sink := eventsink.New(sinkQueueDepth)
	sink.RegisterComponent(requestComponent)
	sink.Error(string(answerflow.BadRequest), err.Error())
	sink.MarkComponentComplete(requestComponent)
	return Result{Sink: sink, StatusCode: StatusBadRequest}
}

// buildStreamer constructs G for one request. It returns nil — leaving
// "tts_processing" unregistered — when the organisation has no TTS
// credentials or no vendor is configured process-wide.
func (a *Adapter) buildStreamer(sink *eventsink.Sink, appCfg *config.AppConfig, defaultLang string) *ttsstreamer.Streamer {
	if appCfg.TTS == nil || a.ttsVendor == nil {
		return nil
	}
	auth := tts.Auth{APIKey: appCfg.TTS.APIKey, Region: appCfg.TTS.Region}
	client := ttsclient.New(a.ttsVendor, a.audioCache, ttsclient.WithMetrics(a.metrics))

	resolveVoice := func(language string) (types.VoiceModel, string, bool) {
		loc := appCfg.FindLocalisation(language, defaultLang)
		if loc != nil && loc.TTSModel == nil {
			// No voice for this language: use the fallback language's voice.
			fallback := appCfg.DefaultPrimaryLanguage
			if fallback == "" {
				fallback = defaultLang
			}
			loc = appCfg.FindLocalisation(fallback, defaultLang)
		}
		if loc == nil || loc.TTSModel == nil {
			return types.VoiceModel{}, "", false
		}
		return types.VoiceModel{
			ID:         loc.TTSModel.VoiceID,
			Provider:   loc.TTSModel.Provider,
			PitchShift: loc.TTSModel.PitchShift,
			PhonemeURL: loc.TTSModel.PhonemeURL,
		}, loc.Language, true
	}

	render := func(ctx context.Context, text, language string, voice types.VoiceModel) ([]byte, string, error) {
		return client.Render(ctx, text, language, voice, auth)
	}

	onAudio := func(chunk ttsstreamer.AudioChunk) {
		sink.Emit(eventsink.Event{
			Type: "tts_audio",
			Data: map[string]any{
				"text":         chunk.Text,
				"language":     chunk.Language,
				"audio_size":   len(chunk.Audio),
				"audio_data":   eventsink.EncodeAudioBase64(chunk.Audio),
				"audio_format": chunk.MediaType,
			},
		})
	}
	onError := func(err error) {
		sink.Error(string(answerflow.TTSFailed), err.Error())
	}
	onDone := func() {
		sink.MarkComponentComplete(answerflow.ComponentTTSProcessing)
	}

	return ttsstreamer.New(resolveVoice, render, onAudio, onError, onDone)
}

// resolveGenerator picks the LLM provider for loc's generator_model,
// honouring the "groq/" prefix invariant. Providers are
// constructed lazily and cached process-wide per (provider, model) pair; a
// construction failure logs and falls back to the process default rather
// than failing the request, since a single misconfigured localisation
// should not take down every other tenant sharing this process.
func (a *Adapter) resolveGenerator(loc config.LocalisationConfig) llm.Provider {
	if loc.GeneratorModel == "" || a.llmFactory == nil {
		return a.defaultGenerator
	}

	providerName, model := "openai", loc.GeneratorModel
	if rest, ok := strings.CutPrefix(model, "groq/"); ok {
		providerName, model = "groq", rest
	}

	key := providerName + "/" + model
	if v, ok := a.llmCache.Load(key); ok {
		return v.(llm.Provider)
	}
	p, err := a.llmFactory(providerName, model)
	if err != nil {
		slog.Warn("reqadapter: failed to construct localisation generator, using default", "generator_model", loc.GeneratorModel, "err", err)
		return a.defaultGenerator
	}
	actual, _ := a.llmCache.LoadOrStore(key, p)
	return actual.(llm.Provider)
}

func validateWire(w WireRequest) error {
	var errs []error
	if strings.TrimSpace(w.Transcript) == "" {
		errs = append(errs, errors.New("transcript is required"))
	}
	if strings.TrimSpace(w.OrgID) == "" {
		errs = append(errs, errors.New("org_id is required"))
	}
	if strings.TrimSpace(w.ConfigID) == "" {
		errs = append(errs, errors.New("config_id is required"))
	}
	if strings.TrimSpace(w.Language) == "" {
		errs = append(errs, errors.New("language is required"))
	}
	for i, m := range w.ChatHistory {
		if m.Role != "user" && m.Role != "assistant" {
			errs = append(errs, fmt.Errorf("chat_history[%d]: role must be \"user\" or \"assistant\", got %q", i, m.Role))
		}
	}
	return errors.Join(errs...)
}

func decodeAudio(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("audio: invalid base64: %w", err)
	}
	return data, nil
}

func convertChatHistory(msgs []WireMessage) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = types.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
