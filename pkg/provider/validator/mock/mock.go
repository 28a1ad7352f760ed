// Package mock provides a test double for the validator.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// ValidateCall records a single invocation of Validate.
type ValidateCall struct {
	Prompts     validator.Prompts
	Language    string
	Transcript  string
	Audio       []byte
	ChatHistory []types.Message
}

// Provider is a mock implementation of validator.Provider.
type Provider struct {
	mu sync.Mutex

	// Result and Err are returned by Validate; Err takes precedence.
	Result validator.Result
	Err    error

	// Calls records every invocation of Validate in order.
	Calls []ValidateCall
}

var _ validator.Provider = (*Provider)(nil)

// Validate records the call and returns the configured Result/Err.
func (p *Provider) Validate(_ context.Context, prompts validator.Prompts, language, transcript string, audio []byte, chatHistory []types.Message) (validator.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, ValidateCall{
		Prompts:     prompts,
		Language:    language,
		Transcript:  transcript,
		Audio:       audio,
		ChatHistory: chatHistory,
	})
	if p.Err != nil {
		return validator.Result{}, p.Err
	}
	return p.Result, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
