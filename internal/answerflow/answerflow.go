// Package answerflow implements component I: the answer-flow orchestrator
// that runs validation, retrieval, and generation for one request, fanning
// generated text into the event sink and, when configured, the TTS
// streamer.
package answerflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/parlance-ai/answerstream/internal/eventsink"
	"github.com/parlance-ai/answerstream/internal/kmclient"
	"github.com/parlance-ai/answerstream/internal/observe"
	"github.com/parlance-ai/answerstream/internal/textdecode"
	"github.com/parlance-ai/answerstream/internal/ttsstreamer"
	"github.com/parlance-ai/answerstream/pkg/provider/llm"
	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// Component names registered on the event sink's completion registry.
// Exported so component J can wire completion callbacks (e.g. the TTS
// streamer's onDone) without duplicating these strings.
const (
	ComponentTextGeneration = "text_generation"
	ComponentTTSProcessing  = "tts_processing"
)

// errStreamFailed marks an LLM stream that ended via a chunk with
// FinishReason "error", for provider-error accounting only; never surfaced
// to the sink or the caller.
var errStreamFailed = errors.New("answerflow: generator stream failed")

// KMSearcher is the KM search adapter contract:
// search(query, keywords) → {data, total}.
type KMSearcher interface {
	Search(ctx context.Context, query string, keywords []string) (kmclient.SearchResult, error)
}

// TemplateFetcher resolves a prompt template URL to its body (component A).
type TemplateFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Request is one answer-generation request, already validated and resolved
// to a localisation by component J.
type Request struct {
	Transcript  string
	Language    string
	Audio       []byte
	ChatHistory []types.Message

	// Keywords distinguishes "not supplied" (nil) from "supplied, possibly
	// empty" (non-nil pointer to a — possibly zero-length — slice): an
	// explicit empty list still skips validation.
	Keywords *[]string
}

// Localisation carries the subset of a localisation config the
// orchestrator needs. Kept independent of internal/config so this package
// has no dependency on the YAML schema.
type Localisation struct {
	SystemPrompt                 string
	GeneratorFormatTextPromptURL string
	ValidatorPrompts             validator.Prompts
	UseSectionedOutput           bool
}

// Orchestrator implements component I. One Orchestrator is constructed per
// request.
type Orchestrator struct {
	sink      *eventsink.Sink
	validator validator.Provider
	km        KMSearcher
	generator llm.Provider
	fetcher   TemplateFetcher
	streamer  *ttsstreamer.Streamer // nil when no voice model is configured
	metrics   *observe.Metrics      // nil disables instrument recording

	language string
}

// New constructs an Orchestrator. streamer may be nil when the request's
// localisation has no usable voice model; the "tts_processing" component
// is then never registered and G is never invoked. metrics may be nil to
// disable instrument recording.
func New(sink *eventsink.Sink, validatorProvider validator.Provider, km KMSearcher, generator llm.Provider, fetcher TemplateFetcher, streamer *ttsstreamer.Streamer, metrics *observe.Metrics) *Orchestrator {
	return &Orchestrator{
		sink:      sink,
		validator: validatorProvider,
		km:        km,
		generator: generator,
		fetcher:   fetcher,
		streamer:  streamer,
		metrics:   metrics,
	}
}

// Run executes the full pipeline for req against loc. The sink is never
// closed directly by Run; closure happens once every registered component
// has completed.
func (o *Orchestrator) Run(ctx context.Context, req Request, loc Localisation) {
	start := time.Now()
	o.language = req.Language

	o.sink.Emit(eventsink.Event{Type: "status", Message: "Starting answer pipeline"})
	o.sink.RegisterComponent(ComponentTextGeneration)
	if o.streamer != nil {
		o.sink.RegisterComponent(ComponentTTSProcessing)
	}

	correction, keywords := o.runValidation(ctx, req, loc)
	kmResult := o.runRetrieval(ctx, correction, keywords)
	if aborted := o.runGeneration(ctx, req, loc, correction, kmResult); aborted {
		// A Fatal error (e.g. UpstreamUnavailable) already force-closed the
		// sink without a complete event; touching it further here would
		// race the sink's own drain-and-close sequence.
		o.recordPipelineDuration(ctx, start)
		return
	}
	o.finish()
	o.recordPipelineDuration(ctx, start)
}

func (o *Orchestrator) recordPipelineDuration(ctx context.Context, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
}

// finish implements stage 5 (Finalise): flush and close G, then mark
// text_generation complete. tts_processing completes asynchronously via
// the streamer's onDone callback, wired by the caller at construction.
func (o *Orchestrator) finish() {
	if o.streamer != nil {
		o.streamer.FlushAll()
		o.streamer.Close()
	}
	o.sink.MarkComponentComplete(ComponentTextGeneration)
}

// runValidation implements stage 2. A validator failure is always
// recoverable, so this never aborts the pipeline.
func (o *Orchestrator) runValidation(ctx context.Context, req Request, loc Localisation) (correction string, keywords []string) {
	if req.Keywords != nil {
		o.sink.Emit(eventsink.Event{Type: "status", Message: "Skipping validation – using provided keywords"})
		correction = req.Transcript
		keywords = *req.Keywords
		o.emitValidationResult(correction, keywords)
		return correction, keywords
	}

	validateStart := time.Now()
	result, err := o.validator.Validate(ctx, loc.ValidatorPrompts, req.Language, req.Transcript, req.Audio, req.ChatHistory)
	if o.metrics != nil {
		o.metrics.ValidationDuration.Record(ctx, time.Since(validateStart).Seconds())
		o.recordProviderCall(ctx, "validator", "validate", err)
	}
	if err != nil {
		o.sink.Emit(eventsink.Event{Type: "status", Message: "Validation failed — falling back to unvalidated transcript"})
		o.sink.Error(string(ValidatorFailed), err.Error())
		correction = req.Transcript
		keywords = []string{}
		o.emitValidationResult(correction, keywords)
		return correction, keywords
	}

	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	o.emitValidationResult(result.Correction, result.Keywords)
	return result.Correction, result.Keywords
}

// recordProviderCall records the provider-request counter (and, on
// failure, the provider-error counter) for one upstream call. Callers must
// check o.metrics != nil themselves, since some also record a
// stage-specific duration histogram alongside it.
func (o *Orchestrator) recordProviderCall(ctx context.Context, provider, kind string, err error) {
	status := "success"
	if err != nil {
		status = "error"
		o.metrics.RecordProviderError(ctx, provider, kind)
	}
	o.metrics.RecordProviderRequest(ctx, provider, kind, status)
}

func (o *Orchestrator) emitValidationResult(correction string, keywords []string) {
	o.sink.Emit(eventsink.Event{
		Type: "validation_result",
		Data: map[string]any{"correction": correction, "keywords": keywords},
	})
}

// runRetrieval implements stage 3. A KM failure degrades to an empty
// document set rather than aborting the pipeline.
func (o *Orchestrator) runRetrieval(ctx context.Context, correction string, keywords []string) kmclient.SearchResult {
	searchStart := time.Now()
	result, err := o.km.Search(ctx, correction, keywords)
	if o.metrics != nil {
		o.metrics.KMRetrievalDuration.Record(ctx, time.Since(searchStart).Seconds())
		o.recordProviderCall(ctx, "km", "search", err)
	}
	if err != nil {
		o.sink.Error(string(KMFailed), err.Error())
		return kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}
	}
	o.sink.Emit(eventsink.Event{
		Type: "km_result",
		Data: map[string]any{"data": result.Data, "total": result.Total},
	})
	return result
}

// runGeneration implements stage 4. It returns true if a non-recoverable
// (Fatal) error force-closed the sink, in which case the caller must not
// touch the sink again.
func (o *Orchestrator) runGeneration(ctx context.Context, req Request, loc Localisation, correction string, km kmclient.SearchResult) bool {
	systemPrompt := loc.SystemPrompt
	if loc.GeneratorFormatTextPromptURL != "" {
		fetchStart := time.Now()
		body, err := o.fetcher.Fetch(ctx, loc.GeneratorFormatTextPromptURL)
		if o.metrics != nil {
			o.metrics.TemplateFetchDuration.Record(ctx, time.Since(fetchStart).Seconds())
			o.recordProviderCall(ctx, "template", "fetch", err)
		}
		if err != nil {
			o.sink.Fatal(string(UpstreamUnavailable), err.Error())
			return true
		}
		if len(body) > 0 {
			systemPrompt = systemPrompt + "\n\n" + textdecode.Decode(body)
		}
	}

	messages := make([]types.Message, 0, len(req.ChatHistory)+1)
	messages = append(messages, req.ChatHistory...)
	messages = append(messages, types.Message{Role: "user", Content: buildUserTurn(correction, km)})

	genStart := time.Now()
	chunks, err := o.generator.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		if o.metrics != nil {
			o.recordProviderCall(ctx, "llm", "generate", err)
		}
		o.sink.Error(string(LLMFailed), err.Error())
		return false
	}

	var parser *SectionParser
	if loc.UseSectionedOutput {
		parser = NewSectionParser()
	}

	firstToken := true
	streamErr := false
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			streamErr = true
			o.sink.Error(string(LLMFailed), "generator stream failed")
			break
		}
		if chunk.Text == "" {
			continue
		}
		if firstToken {
			firstToken = false
			if o.metrics != nil {
				o.metrics.LLMTimeToFirstToken.Record(ctx, time.Since(genStart).Seconds())
			}
		}
		if parser != nil {
			o.handleParsedEvents(parser.Feed(chunk.Text))
		} else {
			o.emitAnswerChunk(chunk.Text)
		}
	}
	if o.metrics != nil {
		o.metrics.LLMDuration.Record(ctx, time.Since(genStart).Seconds())
		var callErr error
		if streamErr {
			callErr = errStreamFailed
		}
		o.recordProviderCall(ctx, "llm", "generate", callErr)
	}

	if parser != nil {
		o.handleParsedEvents(parser.Flush())
	}
	return false
}

func (o *Orchestrator) handleParsedEvents(events []ParsedEvent) {
	for _, e := range events {
		switch e.Kind {
		case "answer_chunk":
			o.emitAnswerChunk(e.Content)
		case "thinking":
			o.sink.Emit(eventsink.Event{Type: "thinking", Data: map[string]string{"content": e.Content}})
		case "formatted_answer":
			o.sink.Emit(eventsink.Event{Type: "formatted_answer", Data: map[string]string{"content": e.Content}})
		case "metadata":
			o.sink.Emit(eventsink.Event{Type: "metadata", Data: map[string]string{"doc_ids": e.Content}})
		}
	}
}

func (o *Orchestrator) emitAnswerChunk(text string) {
	o.sink.Emit(eventsink.Event{Type: "answer_chunk", Data: map[string]string{"content": text}})
	if o.streamer != nil {
		o.streamer.AddTextChunk(text, o.language)
	}
}

// buildUserTurn constructs the current user turn from the validated
// transcript and any retrieved documents.
func buildUserTurn(correction string, km kmclient.SearchResult) string {
	var b strings.Builder
	b.WriteString(correction)
	if len(km.Data) > 0 {
		b.WriteString("\n\nRelevant documents:\n")
		for _, r := range km.Data {
			b.WriteString("- ")
			b.WriteString(r.Document.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
