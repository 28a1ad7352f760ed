package azurespeech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

func TestVendor_ImplementsInterface(t *testing.T) {
	v, err := New("eastus")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var _ tts.Vendor = v
}

func TestNew_EmptyRegion(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty region")
	}
}

func TestSynthesize_RejectsMissingAuth(t *testing.T) {
	v, _ := New("eastus")
	_, _, err := v.Synthesize(context.Background(), "<speak/>", types.VoiceModel{}, tts.Auth{})
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestSynthesize_SendsSSMLAndHeaders(t *testing.T) {
	var gotBody, gotKey, gotFormat, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotFormat = r.Header.Get("X-Microsoft-OutputFormat")
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	v, err := New("eastus", WithEndpointOverride(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	audio, mt, err := v.Synthesize(context.Background(), "<speak>hi</speak>", types.VoiceModel{ID: "en-US-JennyNeural"}, tts.Auth{APIKey: "secret"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Fatalf("audio = %q", audio)
	}
	if mt != "audio/mpeg" {
		t.Fatalf("media type = %q, want audio/mpeg", mt)
	}
	if gotBody != "<speak>hi</speak>" {
		t.Fatalf("body = %q", gotBody)
	}
	if gotKey != "secret" {
		t.Fatalf("subscription key = %q, want secret", gotKey)
	}
	if gotFormat != defaultOutputFormat {
		t.Fatalf("output format = %q, want %q", gotFormat, defaultOutputFormat)
	}
	if gotContentType != "application/ssml+xml" {
		t.Fatalf("content type = %q", gotContentType)
	}
}

func TestEndpoint_UsesGivenRegion(t *testing.T) {
	v, err := New("eastus")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := v.endpoint("westeurope"); got != "https://westeurope.tts.speech.microsoft.com/cognitiveservices/v1" {
		t.Fatalf("endpoint = %q", got)
	}
}

func TestSynthesize_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v, _ := New("eastus", WithEndpointOverride(srv.URL))
	_, _, err := v.Synthesize(context.Background(), "<speak/>", types.VoiceModel{}, tts.Auth{APIKey: "bad"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}
