// Package observe provides application-wide observability primitives for
// Answerstream: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Answerstream metrics.
const meterName = "github.com/parlance-ai/answerstream"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ValidationDuration tracks transcript validation/correction latency.
	ValidationDuration metric.Float64Histogram

	// KMRetrievalDuration tracks knowledge-base search latency.
	KMRetrievalDuration metric.Float64Histogram

	// LLMTimeToFirstToken tracks the delay between issuing a completion
	// request and receiving the first non-empty chunk.
	LLMTimeToFirstToken metric.Float64Histogram

	// LLMDuration tracks total LLM generation latency, from issuing the
	// completion request to stream close.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks per-chunk text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// TemplateFetchDuration tracks prompt-template fetch latency, including
	// cache hits (recorded near zero).
	TemplateFetchDuration metric.Float64Histogram

	// PipelineDuration tracks the orchestrator's run, from the start of the
	// pipeline to the end of text generation (or a fatal abort). TTS audio
	// still rendering after that point, and the `complete` SSE event that
	// waits for it, are not included.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// AudioCacheLookups counts TTS audio cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	AudioCacheLookups metric.Int64Counter

	// SSEEventsEmitted counts SSE events written to a response stream. Use
	// with attribute:
	//   attribute.String("type", ...)
	SSEEventsEmitted metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// PipelineErrors counts pipeline errors surfaced as `error` SSE events.
	// Use with attribute:
	//   attribute.String("kind", ...) — an answerflow.ErrorKind value
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of in-flight SSE answer streams.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive answer-generation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ValidationDuration, err = m.Float64Histogram("answerstream.validation.duration",
		metric.WithDescription("Latency of transcript validation/correction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KMRetrievalDuration, err = m.Float64Histogram("answerstream.km_retrieval.duration",
		metric.WithDescription("Latency of knowledge-base search."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMTimeToFirstToken, err = m.Float64Histogram("answerstream.llm.time_to_first_token",
		metric.WithDescription("Latency from completion request to first generated chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("answerstream.llm.duration",
		metric.WithDescription("Total latency of LLM generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("answerstream.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TemplateFetchDuration, err = m.Float64Histogram("answerstream.template_fetch.duration",
		metric.WithDescription("Latency of prompt-template fetches, including cache hits."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("answerstream.pipeline.duration",
		metric.WithDescription("Latency of one pipeline run, from its start to the end of text generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("answerstream.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioCacheLookups, err = m.Int64Counter("answerstream.audio_cache.lookups",
		metric.WithDescription("Total TTS audio cache lookups by result (hit or miss)."),
	); err != nil {
		return nil, err
	}
	if met.SSEEventsEmitted, err = m.Int64Counter("answerstream.sse.events_emitted",
		metric.WithDescription("Total SSE events emitted by type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("answerstream.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("answerstream.pipeline.errors",
		metric.WithDescription("Total pipeline errors surfaced as `error` SSE events, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("answerstream.active_streams",
		metric.WithDescription("Number of in-flight SSE answer streams."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("answerstream.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordAudioCacheLookup is a convenience method that records a TTS audio
// cache lookup outcome.
func (m *Metrics) RecordAudioCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AudioCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSSEEvent is a convenience method that records one emitted SSE event.
func (m *Metrics) RecordSSEEvent(ctx context.Context, eventType string) {
	m.SSEEventsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordPipelineError is a convenience method that records a pipeline error
// counter increment keyed by answerflow.ErrorKind.
func (m *Metrics) RecordPipelineError(ctx context.Context, kind string) {
	m.PipelineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
