// Package httpapi implements the HTTP transport: POST /api/v1/answer-sse,
// mux setup, and the glue that drains an internal/eventsink.Sink onto an
// SSE response, grounded on the reference corpus's HTTP transport layer
// (_examples/nadzzz-switchyard/internal/transport/http/http.go).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parlance-ai/answerstream/internal/eventsink"
	"github.com/parlance-ai/answerstream/internal/health"
	"github.com/parlance-ai/answerstream/internal/observe"
	"github.com/parlance-ai/answerstream/internal/reqadapter"
)

// Adapter is the subset of internal/reqadapter.Adapter the transport needs.
// Kept as an interface so tests can supply a fake without constructing a
// full component-J adapter.
type Adapter interface {
	HandleRequest(ctx context.Context, wire reqadapter.WireRequest) reqadapter.Result
}

// Server wires component J to an HTTP mux and owns the http.Server.
type Server struct {
	addr    string
	adapter Adapter
	health  *health.Handler
	metrics *observe.Metrics

	server *http.Server
}

// New constructs a Server. checkers become the /readyz dependency checks.
func New(addr string, adapter Adapter, metrics *observe.Metrics, checkers ...health.Checker) *Server {
	return &Server{
		addr:    addr,
		adapter: adapter,
		health:  health.New(checkers...),
		metrics: metrics,
	}
}

// Mux builds the request router. Exposed separately from ListenAndServe so
// tests can exercise routes with httptest.NewServer.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/answer-sse", s.handleAnswerSSE)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
	s.health.Register(mux)

	handler := http.Handler(mux)
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(handler)
	}
	wrapped := http.NewServeMux()
	wrapped.Handle("/", handler)
	return wrapped
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled,
// at which point it shuts down gracefully within 5s.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("httpapi: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	slog.Info("httpapi: listening", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	return nil
}

// handleAnswerSSE implements POST /api/v1/answer-sse.
//
// @Summary     Stream an AI-generated answer
// @Description Validates the request, resolves the caller's localisation, and streams pipeline
// @Description progress and the generated answer as server-sent events.
// @Tags        answer
// @Accept      json
// @Produce     text/event-stream
// @Param       request body reqadapter.WireRequest true "Answer request"
// @Success     200 {string} string "text/event-stream body of SSE events"
// @Failure     400 {string} string "text/event-stream body carrying a single error+complete pair"
// @Router      /api/v1/answer-sse [post]
func (s *Server) handleAnswerSSE(w http.ResponseWriter, r *http.Request) {
	var wire reqadapter.WireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	result := s.adapter.HandleRequest(r.Context(), wire)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(result.StatusCode)
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(r.Context(), 1)
		defer s.metrics.ActiveStreams.Add(r.Context(), -1)
	}

	for event := range result.Sink.Out() {
		if err := writeSSE(w, event); err != nil {
			// Client disconnected: stop writing, let the request
			// context cancellation propagate to the orchestrator.
			slog.Warn("httpapi: write failed, client likely disconnected", "err", err)
			return
		}
		flusher.Flush()
		s.recordEvent(r.Context(), event)
	}
}

func (s *Server) recordEvent(ctx context.Context, event eventsink.Event) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSSEEvent(ctx, event.Type)
	if event.Type != "error" {
		return
	}
	kind := "unknown"
	if data, ok := event.Data.(map[string]string); ok {
		if k, ok := data["kind"]; ok {
			kind = k
		}
	}
	s.metrics.RecordPipelineError(ctx, kind)
}

// wirePayload is the JSON shape written for one SSE event: every payload
// carries type and timestamp, plus exactly one of message or data
// depending on the event type.
type wirePayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func writeSSE(w http.ResponseWriter, event eventsink.Event) error {
	payload := wirePayload{Type: event.Type, Timestamp: event.Timestamp, Message: event.Message, Data: event.Data}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("httpapi: marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, body); err != nil {
		return err
	}
	return nil
}
