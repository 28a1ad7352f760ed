// Package validator defines the Provider interface for the transcript
// validation/correction step (component I, Validation stage).
package validator

import (
	"context"

	"github.com/parlance-ai/answerstream/pkg/types"
)

// Prompts carries the localisation-supplied validator prompt templates.
type Prompts struct {
	SystemPromptTemplateURL     string
	TranscriptPromptTemplateURL string
}

// Result is the vendor's correction/keyword extraction output.
type Result struct {
	Correction string
	Keywords   []string
}

// Provider validates (and corrects) a transcript, optionally using audio,
// against the caller's chat history. Implementations must be safe for
// concurrent use.
type Provider interface {
	Validate(ctx context.Context, prompts Prompts, language, transcript string, audio []byte, chatHistory []types.Message) (Result, error)
}
