// Package ttsbuffer implements component F: a per-language accumulator that
// batches streamed text fragments into flush-sized chunks before handing
// them to a synchronous TTS render.
package ttsbuffer

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	// DefaultMinWords is the minimum word count that triggers an
	// out-of-band flush before the max-wait timer fires.
	DefaultMinWords = 3
	// DefaultMaxWait bounds how long a partial buffer waits for more words
	// before flushing anyway.
	DefaultMaxWait = 2 * time.Second
)

// RenderFunc synthesises text to audio. Buffer calls this once per flushed
// prefix, sequentially, never concurrently with another render on the same
// Buffer — see the ordering note on New.
type RenderFunc func(ctx context.Context, text string) (audio []byte, mediaType string, err error)

// Buffer accumulates text for one language and flushes complete,
// word-boundary-aligned prefixes to a RenderFunc. Safe for concurrent use.
//
// Ordering: renders for a single Buffer are dispatched sequentially by one
// worker goroutine, so audio callbacks always fire in extraction order even
// though each render is itself a blocking, potentially slow, vendor call.
// This trades a small amount of pipelining for a trivial ordering
// guarantee, matching the "sequential-per-buffer" option this design
// leaves open.
type Buffer struct {
	minWords int
	maxWait  time.Duration
	render   RenderFunc
	onAudio  func(prefix string, audio []byte, mediaType string)
	onError  func(err error)
	onDone   func()

	mu       sync.Mutex
	pending  strings.Builder
	timer    *time.Timer
	inFlight int
	closed   bool

	tasks    chan string
	doneOnce sync.Once
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMinWords overrides DefaultMinWords.
func WithMinWords(n int) Option {
	return func(b *Buffer) { b.minWords = n }
}

// WithMaxWait overrides DefaultMaxWait.
func WithMaxWait(d time.Duration) Option {
	return func(b *Buffer) { b.maxWait = d }
}

// New creates a Buffer that renders flushed prefixes via render, delivering
// results via onAudio and failures via onError. onDone fires exactly once,
// after Close has been called and every in-flight render has completed.
func New(render RenderFunc, onAudio func(prefix string, audio []byte, mediaType string), onError func(err error), onDone func(), opts ...Option) *Buffer {
	b := &Buffer{
		minWords: DefaultMinWords,
		maxWait:  DefaultMaxWait,
		render:   render,
		onAudio:  onAudio,
		onError:  onError,
		onDone:   onDone,
		tasks:    make(chan string, 64),
	}
	for _, o := range opts {
		o(b)
	}
	go b.worker()
	return b
}

func (b *Buffer) worker() {
	for text := range b.tasks {
		audio, mediaType, err := b.render(context.Background(), text)
		if err != nil {
			b.onError(err)
		} else {
			b.onAudio(text, audio, mediaType)
		}
		b.mu.Lock()
		b.inFlight--
		done := b.closed && b.inFlight == 0
		b.mu.Unlock()
		if done {
			b.fireDone()
			return
		}
	}
	// Channel closed with nothing left to drain: fire completion if it
	// hasn't already fired via the branch above.
	b.mu.Lock()
	fire := b.closed && b.inFlight == 0
	b.mu.Unlock()
	if fire {
		b.fireDone()
	}
}

// fireDone calls onDone exactly once, however many goroutines race to
// declare completion.
func (b *Buffer) fireDone() {
	b.doneOnce.Do(b.onDone)
}

// Append adds fragment to the pending buffer and flushes if the flush
// predicate (word count >= minWords) is now satisfied. A no-op once Close
// has been called.
func (b *Buffer) Append(fragment string) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	wasEmpty := b.pending.Len() == 0
	b.pending.WriteString(fragment)
	if wasEmpty && b.pending.Len() > 0 {
		b.armTimer()
	}
	b.maybeFlushLocked(false)
	b.mu.Unlock()
}

// Flush unconditionally flushes whatever text is pending, regardless of
// word count.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.maybeFlushLocked(true)
	b.mu.Unlock()
}

// Close marks the buffer closed, flushes any remaining pending text
// (including a trailing partial word), and arranges for onDone to fire once
// every in-flight render has completed. Idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimerLocked()
	b.maybeFlushLocked(true)
	noWorkPending := b.inFlight == 0
	b.mu.Unlock()

	close(b.tasks)
	if noWorkPending {
		b.fireDone()
	}
}

// armTimer starts (or restarts) the max-wait timer. Must be called with
// b.mu held.
func (b *Buffer) armTimer() {
	b.stopTimerLocked()
	b.timer = time.AfterFunc(b.maxWait, func() {
		b.mu.Lock()
		b.maybeFlushLocked(true)
		b.mu.Unlock()
	})
}

func (b *Buffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// wordCount returns the number of whitespace-separated words in s.
func wordCount(s string) int {
	return len(strings.Fields(s))
}

// maybeFlushLocked evaluates the flush predicate and, if satisfied,
// dispatches a flush prefix for rendering. force (a timer fire or Close)
// always takes the entire pending buffer, trailing partial word included.
// A threshold-triggered flush (force == false) only takes the largest
// word-boundary-aligned prefix, leaving any trailing word that has no
// following whitespace yet in pending for the next Append, Flush, or timer
// fire to pick up. Must be called with b.mu held.
func (b *Buffer) maybeFlushLocked(force bool) {
	pending := b.pending.String()
	if pending == "" {
		return
	}
	if !force && wordCount(pending) < b.minWords {
		return
	}

	var prefix string
	if force {
		prefix = pending
		b.pending.Reset()
		b.stopTimerLocked()
	} else {
		cut := boundaryCut(pending)
		if cut == 0 {
			// Threshold met by raw word count, but no word in pending has a
			// following whitespace yet: nothing to flush without cutting a
			// word in half.
			return
		}
		prefix = pending[:cut]
		remainder := pending[cut:]
		b.pending.Reset()
		if remainder != "" {
			b.pending.WriteString(remainder)
		} else {
			b.stopTimerLocked()
		}
	}

	b.inFlight++
	b.tasks <- prefix
}

// boundaryCut returns the byte offset in s just past the last word that is
// followed by whitespace. A trailing word with no following whitespace —
// still being streamed in — is excluded and never reflected in the
// returned offset. If s ends in whitespace, every word in it is complete
// and the offset equals len(s). Returns 0 if s holds no complete word.
func boundaryCut(s string) int {
	const (
		beforeWord = iota
		inWord
		inSpace
	)
	state := beforeWord
	cut := 0
	for i, r := range s {
		sp := unicode.IsSpace(r)
		switch state {
		case beforeWord:
			if !sp {
				state = inWord
			}
		case inWord:
			if sp {
				state = inSpace
			}
		case inSpace:
			if !sp {
				cut = i
				state = inWord
			}
		}
	}
	if state == inSpace {
		cut = len(s)
	}
	return cut
}
