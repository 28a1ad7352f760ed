package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] either
// failed or was skipped because its breaker is open.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig is the circuit-breaker template applied to every entry
// registered in a [FallbackGroup]; each entry gets its own breaker instance
// named after that entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs one provider instance with the breaker that guards it.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup orders a primary provider ahead of zero or more fallbacks of
// the same interface type T. [FallbackGroup.Execute] and the package-level
// [ExecuteWithResult] walk the entries in registration order, skipping any
// whose breaker is open, and stop at the first one that succeeds.
//
// FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup starts a group with primary as its only (and first)
// entry. Call [FallbackGroup.AddFallback] to register alternates.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	cbCfg := cfg.CircuitBreaker
	cbCfg.Name = primaryName
	return &FallbackGroup[T]{
		entries: []fallbackEntry[T]{
			{name: primaryName, value: primary, breaker: NewCircuitBreaker(cbCfg)},
		},
		cfg: cfg,
	}
}

// AddFallback registers another provider instance, tried only once every
// entry ahead of it in the list has failed or is skipped.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against entries in order until one succeeds, returning
// [ErrAllFailed] wrapped around the last error seen if none do.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	var lastErr error
	for i := range fg.entries {
		entry := &fg.entries[i]
		err := entry.breaker.Execute(func() error {
			return fn(entry.value)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		fg.logAttempt(entry.name, err)
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult behaves like [FallbackGroup.Execute] but also returns
// the winning call's result value. Declared as a package-level function
// rather than a method because Go does not support type parameters on
// individual methods.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		fg.logAttempt(entry.name, err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// logAttempt records why one entry's attempt did not produce a result.
func (fg *FallbackGroup[T]) logAttempt(name string, err error) {
	if errors.Is(err, ErrCircuitOpen) {
		slog.Debug("resilience: provider skipped, circuit open", "provider", name)
		return
	}
	slog.Warn("resilience: provider call failed, trying next entry", "provider", name, "error", err)
}
