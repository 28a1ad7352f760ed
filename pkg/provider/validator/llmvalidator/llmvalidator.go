// Package llmvalidator implements validator.Provider by delegating to an
// LLM provider: it builds a single-turn prompt from the localisation's
// validator prompt templates plus the transcript and chat history, and
// parses a JSON {correction, keywords} object out of the model's reply.
//
// Audio input is not natively supported by the llm.Provider abstraction
// (it is text-only), so when audio is supplied it is noted in the prompt
// rather than attached — a real multimodal validator backend can implement
// validator.Provider directly against a provider that does support it.
package llmvalidator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parlance-ai/answerstream/internal/templatecache"
	"github.com/parlance-ai/answerstream/pkg/provider/llm"
	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/types"
)

var _ validator.Provider = (*Validator)(nil)

// Validator adapts an llm.Provider to validator.Provider.
type Validator struct {
	provider llm.Provider
	fetcher  *templatecache.Fetcher
}

// New creates a Validator backed by provider, fetching prompt templates
// through fetcher (component A) so template freshness/caching policy is
// shared with every other component that resolves a URL-backed prompt.
func New(provider llm.Provider, fetcher *templatecache.Fetcher) *Validator {
	return &Validator{provider: provider, fetcher: fetcher}
}

type llmOutput struct {
	Correction string   `json:"correction"`
	Keywords   []string `json:"keywords"`
}

// Validate implements validator.Provider.
func (v *Validator) Validate(ctx context.Context, prompts validator.Prompts, language, transcript string, audio []byte, chatHistory []types.Message) (validator.Result, error) {
	systemPrompt, err := v.resolveTemplate(ctx, prompts.SystemPromptTemplateURL)
	if err != nil {
		return validator.Result{}, fmt.Errorf("llmvalidator: system prompt: %w", err)
	}
	turnPrompt, err := v.resolveTemplate(ctx, prompts.TranscriptPromptTemplateURL)
	if err != nil {
		return validator.Result{}, fmt.Errorf("llmvalidator: transcript prompt: %w", err)
	}

	var userTurn strings.Builder
	userTurn.WriteString(turnPrompt)
	userTurn.WriteString("\n\nLanguage: ")
	userTurn.WriteString(language)
	userTurn.WriteString("\nTranscript: ")
	userTurn.WriteString(transcript)
	if len(audio) > 0 {
		userTurn.WriteString(fmt.Sprintf("\n[audio attached, %d bytes — not inlined for this provider]", len(audio)))
	}
	userTurn.WriteString("\n\nRespond with a single JSON object: {\"correction\": string, \"keywords\": string[]}.")

	messages := append(append([]types.Message{}, chatHistory...), types.Message{Role: "user", Content: userTurn.String()})

	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Temperature:  0,
	})
	if err != nil {
		return validator.Result{}, fmt.Errorf("llmvalidator: complete: %w", err)
	}

	out, err := parseJSONObject(resp.Content)
	if err != nil {
		return validator.Result{}, fmt.Errorf("llmvalidator: parse response: %w", err)
	}
	return validator.Result{Correction: out.Correction, Keywords: out.Keywords}, nil
}

func (v *Validator) resolveTemplate(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", nil
	}
	body, err := v.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// parseJSONObject parses the span of text from the first '{' to the last '}'
// as one JSON object, tolerating a model that wraps its answer in prose or a
// code fence. A reply holding more than one object does not parse.
func parseJSONObject(text string) (llmOutput, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return llmOutput{}, fmt.Errorf("no JSON object found in response")
	}
	var out llmOutput
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return llmOutput{}, err
	}
	if out.Keywords == nil {
		out.Keywords = []string{}
	}
	return out, nil
}
