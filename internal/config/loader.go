package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "groq", "anyllm"},
	"tts":        {"elevenlabs", "coqui", "azurespeech"},
	"embeddings": {"openai", "ollama"},
	"validator":  {"llm"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("validator", cfg.Providers.Validator.Name)

	if cfg.Providers.LLM.Name == "" && len(cfg.Organisations) > 0 {
		slog.Warn("no LLM provider configured; answer generation will fail for every organisation")
	}

	orgIDsSeen := make(map[string]int, len(cfg.Organisations))

	for i, org := range cfg.Organisations {
		prefix := fmt.Sprintf("organisations[%d]", i)
		if org.OrgID == "" {
			errs = append(errs, fmt.Errorf("%s.org_id is required", prefix))
		} else if prev, ok := orgIDsSeen[org.OrgID]; ok {
			errs = append(errs, fmt.Errorf("%s.org_id %q is a duplicate of organisations[%d]", prefix, org.OrgID, prev))
		} else {
			orgIDsSeen[org.OrgID] = i
		}

		configIDsSeen := make(map[string]int, len(org.Configs))
		for j, appCfg := range org.Configs {
			cPrefix := fmt.Sprintf("%s.configs[%d]", prefix, j)
			if appCfg.ConfigID == "" {
				errs = append(errs, fmt.Errorf("%s.config_id is required", cPrefix))
			} else if prev, ok := configIDsSeen[appCfg.ConfigID]; ok {
				errs = append(errs, fmt.Errorf("%s.config_id %q is a duplicate of %s.configs[%d]", cPrefix, appCfg.ConfigID, prefix, prev))
			} else {
				configIDsSeen[appCfg.ConfigID] = j
			}
			if len(appCfg.Localisations) == 0 {
				errs = append(errs, fmt.Errorf("%s.localisations must not be empty", cPrefix))
			}

			langsSeen := make(map[string]int, len(appCfg.Localisations))
			for k, loc := range appCfg.Localisations {
				lPrefix := fmt.Sprintf("%s.localisations[%d]", cPrefix, k)
				if loc.Language == "" {
					errs = append(errs, fmt.Errorf("%s.language is required", lPrefix))
				} else if prev, ok := langsSeen[loc.Language]; ok {
					errs = append(errs, fmt.Errorf("%s.language %q is a duplicate of %s.localisations[%d]", lPrefix, loc.Language, cPrefix, prev))
				} else {
					langsSeen[loc.Language] = k
				}
				if loc.GeneratorModel == "" {
					errs = append(errs, fmt.Errorf("%s.generator_model is required", lPrefix))
				}
				if loc.TTSModel != nil && appCfg.TTS == nil {
					slog.Warn("localisation configures a voice but the app config has no TTS credentials",
						"org_id", org.OrgID, "config_id", appCfg.ConfigID, "language", loc.Language)
				}
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
