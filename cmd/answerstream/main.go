// Command answerstream runs the answer-generation SSE streaming service:
// it loads configuration, wires the provider registry, and serves
// POST /api/v1/answer-sse alongside health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/parlance-ai/answerstream/internal/audiocache"
	"github.com/parlance-ai/answerstream/internal/config"
	"github.com/parlance-ai/answerstream/internal/health"
	"github.com/parlance-ai/answerstream/internal/httpapi"
	"github.com/parlance-ai/answerstream/internal/kmclient"
	"github.com/parlance-ai/answerstream/internal/observe"
	"github.com/parlance-ai/answerstream/internal/reqadapter"
	"github.com/parlance-ai/answerstream/internal/resilience"
	"github.com/parlance-ai/answerstream/internal/templatecache"
	"github.com/parlance-ai/answerstream/pkg/provider/embeddings"
	embeddingsollama "github.com/parlance-ai/answerstream/pkg/provider/embeddings/ollama"
	embeddingsopenai "github.com/parlance-ai/answerstream/pkg/provider/embeddings/openai"
	"github.com/parlance-ai/answerstream/pkg/provider/llm"
	"github.com/parlance-ai/answerstream/pkg/provider/llm/anyllm"
	llmopenai "github.com/parlance-ai/answerstream/pkg/provider/llm/openai"
	"github.com/parlance-ai/answerstream/pkg/provider/tts"
	"github.com/parlance-ai/answerstream/pkg/provider/tts/azurespeech"
	"github.com/parlance-ai/answerstream/pkg/provider/tts/coqui"
	"github.com/parlance-ai/answerstream/pkg/provider/tts/elevenlabs"
	"github.com/parlance-ai/answerstream/pkg/provider/validator"
	"github.com/parlance-ai/answerstream/pkg/provider/validator/llmvalidator"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("answerstream: fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configureLogging(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "answerstream"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdownTelemetry(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	registry := buildRegistry()

	fetcher := templatecache.New()
	audioStore := audiocache.NewMemory()
	audioCache := audiocache.New(audioStore)

	defaultGenerator, err := registry.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return fmt.Errorf("construct default LLM provider: %w", err)
	}
	defaultGenerator = wrapLLMFallback(defaultGenerator, cfg.Providers.LLM.Name)

	llmFactory := reqadapter.LLMFactory(func(providerName, model string) (llm.Provider, error) {
		return anyllm.New(providerName, model, anyllmlib.WithAPIKey(cfg.Providers.LLM.APIKey))
	})

	var validatorProvider validator.Provider
	if cfg.Providers.Validator.Name != "" {
		validatorProvider, err = registry.CreateValidator(cfg.Providers.Validator)
		if err != nil {
			return fmt.Errorf("construct validator provider: %w", err)
		}
	} else {
		validatorProvider = llmvalidator.New(defaultGenerator, fetcher)
	}

	var ttsVendor tts.Vendor
	if cfg.Providers.TTS.Name != "" {
		ttsVendor, err = registry.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return fmt.Errorf("construct TTS vendor: %w", err)
		}
		ttsVendor = wrapTTSFallback(ttsVendor, cfg.Providers.TTS.Name)
	}

	var kmClient *kmclient.Client
	if cfg.Database.DSN != "" {
		embedder, err := registry.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return fmt.Errorf("construct embeddings provider: %w", err)
		}
		kmClient, err = kmclient.New(ctx, cfg.Database.DSN, embedder)
		if err != nil {
			return fmt.Errorf("connect KM store: %w", err)
		}
	}

	adapter := reqadapter.New(cfg, validatorProvider, kmSearcher(kmClient), defaultGenerator, llmFactory, fetcher, ttsVendor, audioCache, metrics)

	watcher, err := config.NewWatcher(configPath, func(old, newCfg *config.Config) {
		diff := config.Diff(old, newCfg)
		slog.Info("answerstream: config reloaded", "organisations_changed", diff.OrganisationsChanged, "log_level_changed", diff.LogLevelChanged)
		adapter.UpdateConfig(newCfg)
	})
	if err != nil {
		slog.Warn("answerstream: config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	checkers := healthCheckers(cfg, kmClient)
	server := httpapi.New(cfg.Server.ListenAddr, adapter, metrics, checkers...)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func configureLogging(level config.LogLevel) {
	var slogLevel slog.Level
	switch level {
	case config.LogDebug:
		slogLevel = slog.LevelDebug
	case config.LogWarn:
		slogLevel = slog.LevelWarn
	case config.LogError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel})))
}

// buildRegistry registers every provider factory this build knows how to
// construct, keyed by the name a config.yaml provider entry selects.
func buildRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterLLM("anyllm", func(e config.ProviderEntry) (llm.Provider, error) {
		opts := []anyllmlib.Option{}
		if e.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
		}
		providerName := e.Name
		if v, ok := e.Options["backend"].(string); ok && v != "" {
			providerName = v
		}
		return anyllm.New(providerName, e.Model, opts...)
	})
	r.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	r.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewGroq(e.Model, anyllmlib.WithAPIKey(e.APIKey))
	})

	r.RegisterTTS("azurespeech", func(e config.ProviderEntry) (tts.Vendor, error) {
		region, _ := e.Options["region"].(string)
		return azurespeech.New(region)
	})
	r.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Vendor, error) {
		return elevenlabs.New(), nil
	})
	r.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Vendor, error) {
		return coqui.New(e.BaseURL)
	})

	r.RegisterEmbeddings("openai", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsopenai.New(e.APIKey, e.Model)
	})
	r.RegisterEmbeddings("ollama", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return embeddingsollama.New(e.BaseURL, e.Model)
	})

	return r
}

// wrapLLMFallback promotes a bare primary into a [resilience.LLMFallback]
// group so the circuit-breaker/failover machinery is exercised even for a
// single-backend deployment; additional backends can be registered later
// via config without touching this wiring.
func wrapLLMFallback(primary llm.Provider, primaryName string) llm.Provider {
	return resilience.NewLLMFallback(primary, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 3},
	})
}

func wrapTTSFallback(primary tts.Vendor, primaryName string) tts.Vendor {
	return resilience.NewTTSFallback(primary, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: 30 * time.Second, HalfOpenMax: 3},
	})
}

// kmSearcher adapts a possibly-nil *kmclient.Client to answerflow.KMSearcher:
// with no database configured, retrieval degrades to "no documents" for
// every request rather than failing component J's construction.
func kmSearcher(c *kmclient.Client) answerflowKMSearcher {
	return answerflowKMSearcher{client: c}
}

type answerflowKMSearcher struct {
	client *kmclient.Client
}

func (a answerflowKMSearcher) Search(ctx context.Context, query string, keywords []string) (kmclient.SearchResult, error) {
	if a.client == nil {
		return kmclient.SearchResult{Data: []kmclient.Result{}, Total: 0}, nil
	}
	return a.client.Search(ctx, query, keywords)
}

func healthCheckers(cfg *config.Config, km *kmclient.Client) []health.Checker {
	var checkers []health.Checker

	if km != nil {
		checkers = append(checkers, health.Checker{
			Name: "km_store",
			Check: func(ctx context.Context) error {
				_, err := km.Search(ctx, "healthcheck", nil)
				return err
			},
		})
	}

	checkers = append(checkers, health.Checker{
		Name: "llm_provider_configured",
		Check: func(context.Context) error {
			if cfg.Providers.LLM.Name == "" {
				return errors.New("no LLM provider configured")
			}
			return nil
		},
	})

	return checkers
}
