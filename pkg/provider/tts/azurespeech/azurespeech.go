// Package azurespeech implements tts.Vendor against the Azure Cognitive
// Services Speech REST synthesis endpoint.
//
// There is no Azure Speech SDK in the example corpus, and Azure's SDK is a
// cgo-heavy binding unsuitable for a server process; the REST synthesis
// endpoint is a plain SSML-in, audio-out POST, so net/http is used directly
// rather than reaching for an unrelated ecosystem HTTP client.
package azurespeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/types"
)

var _ tts.Vendor = (*Vendor)(nil)

const (
	defaultOutputFormat = "audio-16khz-32kbitrate-mono-mp3"
	defaultTimeout      = 20 * time.Second
	mediaType           = "audio/mpeg"
)

// Option is a functional option for configuring a Vendor.
type Option func(*Vendor)

// WithOutputFormat overrides Azure's X-Microsoft-OutputFormat header value.
func WithOutputFormat(format string) Option {
	return func(v *Vendor) { v.outputFormat = format }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Vendor) { v.httpClient = c }
}

// WithEndpointOverride replaces the region-derived endpoint URL entirely.
// Used by tests to point at an httptest server.
func WithEndpointOverride(url string) Option {
	return func(v *Vendor) { v.endpointOverride = url }
}

// Vendor implements tts.Vendor backed by an Azure Speech resource region.
// Safe for concurrent use.
type Vendor struct {
	region           string
	outputFormat     string
	httpClient       *http.Client
	endpointOverride string
}

// New creates a Vendor targeting the given Azure Speech region (e.g.
// "eastus"). The per-request auth.Region overrides this default region when
// set, so a single Vendor can serve organisations pinned to different
// regions.
func New(region string, opts ...Option) (*Vendor, error) {
	if region == "" {
		return nil, errors.New("azurespeech: region must not be empty")
	}
	v := &Vendor{
		region:       region,
		outputFormat: defaultOutputFormat,
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

func (v *Vendor) endpoint(region string) string {
	if v.endpointOverride != "" {
		return v.endpointOverride
	}
	return fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", region)
}

// Synthesize POSTs ssmlDoc to Azure's synthesis endpoint and returns the
// rendered audio. auth.APIKey supplies the Ocp-Apim-Subscription-Key header;
// auth.Region, if set, overrides the Vendor's default region.
func (v *Vendor) Synthesize(ctx context.Context, ssmlDoc string, voice types.VoiceModel, auth tts.Auth) ([]byte, string, error) {
	if auth.APIKey == "" {
		return nil, "", errors.New("azurespeech: auth.APIKey must not be empty")
	}
	region := v.region
	if auth.Region != "" {
		region = auth.Region
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint(region), strings.NewReader(ssmlDoc))
	if err != nil {
		return nil, "", fmt.Errorf("azurespeech: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", v.outputFormat)
	req.Header.Set("Ocp-Apim-Subscription-Key", auth.APIKey)
	req.Header.Set("User-Agent", "answerstream")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("azurespeech: POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("azurespeech: synthesis returned status %d: %s", resp.StatusCode, body)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("azurespeech: read response: %w", err)
	}
	return audio, mediaType, nil
}
