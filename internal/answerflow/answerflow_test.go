package answerflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parlance-ai/answerstream/internal/eventsink"
	"github.com/parlance-ai/answerstream/internal/kmclient"
	"github.com/parlance-ai/answerstream/pkg/provider/llm"
	llmmock "github.com/parlance-ai/answerstream/pkg/provider/llm/mock"
	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	validatormock "github.com/parlance-ai/answerstream/pkg/provider/validator/mock"
)

type fakeKM struct {
	result kmclient.SearchResult
	err    error
	calls  []struct {
		query    string
		keywords []string
	}
}

func (f *fakeKM) Search(_ context.Context, query string, keywords []string) (kmclient.SearchResult, error) {
	f.calls = append(f.calls, struct {
		query    string
		keywords []string
	}{query, keywords})
	if f.err != nil {
		return kmclient.SearchResult{}, f.err
	}
	return f.result, nil
}

type fakeFetcher struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func drainSink(t *testing.T, s *eventsink.Sink) []eventsink.Event {
	t.Helper()
	var events []eventsink.Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-s.Out():
			if !ok {
				return events
			}
			events = append(events, e)
		case <-deadline:
			t.Fatal("timed out draining sink")
		}
	}
}

func eventTypes(events []eventsink.Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func containsType(events []eventsink.Event, typ string) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

func TestOrchestrator_KeywordsProvidedSkipsValidation(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hello"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	kw := []string{"warranty"}
	orch.Run(context.Background(), Request{Transcript: "my thing broke", Language: "en", Keywords: &kw}, Localisation{SystemPrompt: "be helpful"})

	events := drainSink(t, sink)
	if len(v.Calls) != 0 {
		t.Errorf("expected validator not to be called, got %d calls", len(v.Calls))
	}
	if !containsType(events, "validation_result") {
		t.Errorf("expected validation_result event, got %v", eventTypes(events))
	}
	if events[len(events)-1].Type != "complete" {
		t.Errorf("last event = %q, want complete", events[len(events)-1].Type)
	}
}

func TestOrchestrator_ValidatorFailureFallsBackAndContinues(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Err: errors.New("upstream 500")}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hello"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "my thing broke", Language: "en"}, Localisation{SystemPrompt: "be helpful"})

	events := drainSink(t, sink)
	if len(v.Calls) != 1 {
		t.Fatalf("expected validator called once, got %d", len(v.Calls))
	}
	if !containsType(events, "error") {
		t.Errorf("expected an error event, got %v", eventTypes(events))
	}
	if !containsType(events, "validation_result") {
		t.Errorf("expected validation_result event despite validator failure, got %v", eventTypes(events))
	}
	if events[len(events)-1].Type != "complete" {
		t.Errorf("last event = %q, want complete", events[len(events)-1].Type)
	}
}

func TestOrchestrator_KMFailureDegradesToEmptyResult(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "fixed transcript", Keywords: []string{}}}
	km := &fakeKM{err: errors.New("connection refused")}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "answer"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{})

	events := drainSink(t, sink)
	if !containsType(events, "error") {
		t.Errorf("expected an error event for KM failure, got %v", eventTypes(events))
	}
	if containsType(events, "km_result") {
		t.Errorf("did not expect km_result event on failure, got %v", eventTypes(events))
	}
	if events[len(events)-1].Type != "complete" {
		t.Errorf("last event = %q, want complete", events[len(events)-1].Type)
	}
}

func TestOrchestrator_KMResultFeedsGenerationPrompt(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "fixed transcript", Keywords: []string{}}}
	km := &fakeKM{result: kmclient.SearchResult{
		Data:  []kmclient.Result{{DocumentID: "d1", Document: kmclient.Document{Content: "reset the router"}}},
		Total: 1,
	}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "try resetting"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{})
	drainSink(t, sink)

	if len(gen.StreamCalls) != 1 {
		t.Fatalf("expected 1 StreamCompletion call, got %d", len(gen.StreamCalls))
	}
	lastMsg := gen.StreamCalls[0].Req.Messages[len(gen.StreamCalls[0].Req.Messages)-1]
	if !stringsContains(lastMsg.Content, "reset the router") {
		t.Errorf("user turn missing retrieved document content: %q", lastMsg.Content)
	}
}

func TestOrchestrator_PlainModeEmitsAnswerChunks(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "hi", Keywords: []string{}}}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Hello "}, {Text: "world"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{UseSectionedOutput: false})

	events := drainSink(t, sink)
	var chunks []string
	for _, e := range events {
		if e.Type == "answer_chunk" {
			data := e.Data.(map[string]string)
			chunks = append(chunks, data["content"])
		}
	}
	if len(chunks) != 2 || chunks[0] != "Hello " || chunks[1] != "world" {
		t.Errorf("answer chunks = %v", chunks)
	}
}

func TestOrchestrator_SectionedModeRoutesEventTypes(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "hi", Keywords: []string{}}}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "<sectionA>The router[meta:docs d1] needs a reset<thinking>consider safety</thinking>okay</sectionA>"},
		{Text: "<sectionB>**Reset the router.**</sectionB>"},
	}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{UseSectionedOutput: true})

	events := drainSink(t, sink)
	if !containsType(events, "answer_chunk") {
		t.Errorf("expected answer_chunk events, got %v", eventTypes(events))
	}
	if !containsType(events, "thinking") {
		t.Errorf("expected thinking event, got %v", eventTypes(events))
	}
	if !containsType(events, "metadata") {
		t.Errorf("expected metadata event, got %v", eventTypes(events))
	}
	if !containsType(events, "formatted_answer") {
		t.Errorf("expected formatted_answer event, got %v", eventTypes(events))
	}
	if events[len(events)-1].Type != "complete" {
		t.Errorf("last event = %q, want complete", events[len(events)-1].Type)
	}
}

func TestOrchestrator_LLMMidStreamErrorStillCompletes(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "hi", Keywords: []string{}}}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "partial answer"},
		{FinishReason: "error"},
	}}
	orch := New(sink, v, km, gen, &fakeFetcher{}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{})

	events := drainSink(t, sink)
	if !containsType(events, "error") {
		t.Errorf("expected an error event for the LLM failure, got %v", eventTypes(events))
	}
	if events[len(events)-1].Type != "complete" {
		t.Errorf("last event = %q, want complete even after LLMFailed", events[len(events)-1].Type)
	}
}

func TestOrchestrator_TemplateFetchFailureAbortsWithoutComplete(t *testing.T) {
	sink := eventsink.New(32)
	v := &validatormock.Provider{Result: validator.Result{Correction: "hi", Keywords: []string{}}}
	km := &fakeKM{result: kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}}
	gen := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "unused"}}}
	orch := New(sink, v, km, gen, &fakeFetcher{err: errors.New("template store unreachable")}, nil, nil)

	orch.Run(context.Background(), Request{Transcript: "hi", Language: "en"}, Localisation{GeneratorFormatTextPromptURL: "https://templates.example/format.txt"})

	events := drainSink(t, sink)
	if containsType(events, "complete") {
		t.Errorf("did not expect complete after an UpstreamUnavailable fatal error, got %v", eventTypes(events))
	}
	if len(gen.StreamCalls) != 0 {
		t.Errorf("expected generator never to be called, got %d calls", len(gen.StreamCalls))
	}
}

func stringsContains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
