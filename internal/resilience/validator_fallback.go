package resilience

import (
	"context"

	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/types"
)

// ValidatorFallback implements [validator.Provider] with automatic failover
// across multiple validator backends. Each backend has its own circuit
// breaker.
type ValidatorFallback struct {
	group *FallbackGroup[validator.Provider]
}

// Compile-time interface assertion.
var _ validator.Provider = (*ValidatorFallback)(nil)

// NewValidatorFallback creates a [ValidatorFallback] with primary as the
// preferred backend.
func NewValidatorFallback(primary validator.Provider, primaryName string, cfg FallbackConfig) *ValidatorFallback {
	return &ValidatorFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional validator provider as a fallback.
func (f *ValidatorFallback) AddFallback(name string, provider validator.Provider) {
	f.group.AddFallback(name, provider)
}

// Validate delegates to the first healthy provider, trying fallbacks in
// registration order.
func (f *ValidatorFallback) Validate(ctx context.Context, prompts validator.Prompts, language, transcript string, audio []byte, chatHistory []types.Message) (validator.Result, error) {
	return ExecuteWithResult(f.group, func(p validator.Provider) (validator.Result, error) {
		return p.Validate(ctx, prompts, language, transcript, audio, chatHistory)
	})
}
