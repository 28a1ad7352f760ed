package config_test

import (
	"strings"
	"testing"

	"github.com/parlance-ai/answerstream/internal/config"
)

func TestValidate_DuplicateOrgIDs(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
organisations:
  - org_id: acme
    configs:
      - config_id: c1
        localisations:
          - language: en-US
            generator_model: gpt-4o
  - org_id: acme
    configs: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate org_id, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_MissingOrgID(t *testing.T) {
	t.Parallel()
	yaml := `
organisations:
  - configs: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing org_id, got nil")
	}
	if !strings.Contains(err.Error(), "org_id is required") {
		t.Errorf("error should mention org_id is required, got: %v", err)
	}
}

func TestValidate_EmptyLocalisationsRejected(t *testing.T) {
	t.Parallel()
	yaml := `
organisations:
  - org_id: acme
    configs:
      - config_id: c1
        localisations: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for empty localisations, got nil")
	}
	if !strings.Contains(err.Error(), "localisations must not be empty") {
		t.Errorf("error should mention empty localisations, got: %v", err)
	}
}

func TestValidate_MissingGeneratorModel(t *testing.T) {
	t.Parallel()
	yaml := `
organisations:
  - org_id: acme
    configs:
      - config_id: c1
        localisations:
          - language: en-US
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing generator_model, got nil")
	}
	if !strings.Contains(err.Error(), "generator_model is required") {
		t.Errorf("error should mention generator_model, got: %v", err)
	}
}

func TestValidate_ValidConfigPasses(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: info
providers:
  llm:
    name: openai
  tts:
    name: azurespeech
organisations:
  - org_id: acme
    configs:
      - config_id: c1
        tts:
          api_key: secret
          region: eastus
        localisations:
          - language: en-US
            generator_model: gpt-4o
            tts_model:
              voice_id: en-US-JennyNeural
              provider: azurespeech
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	org := cfg.FindOrganisation("acme")
	if org == nil {
		t.Fatal("expected to find organisation acme")
	}
	appCfg := org.FindAppConfig("c1")
	if appCfg == nil {
		t.Fatal("expected to find app config c1")
	}
	loc := appCfg.FindLocalisation("en-US", "en-US")
	if loc == nil || loc.GeneratorModel != "gpt-4o" {
		t.Fatalf("expected en-US localisation with gpt-4o, got %+v", loc)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
organisations:
  - configs:
      - localisations: []
  - configs:
      - localisations: []
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "org_id is required") {
		t.Errorf("error should mention org_id is required, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	llmNames := config.ValidProviderNames["llm"]
	if len(llmNames) == 0 {
		t.Fatal("ValidProviderNames[\"llm\"] should not be empty")
	}
	found := false
	for _, n := range llmNames {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"llm\"] should contain \"openai\"")
	}
}

func TestFindLocalisation_FallsBackToDefaultPrimaryLanguage(t *testing.T) {
	t.Parallel()
	appCfg := config.AppConfig{
		Localisations: []config.LocalisationConfig{
			{Language: "en-US", GeneratorModel: "gpt-4o"},
		},
	}
	loc := appCfg.FindLocalisation("fr-FR", "en-US")
	if loc == nil || loc.Language != "en-US" {
		t.Fatalf("expected fallback to en-US, got %+v", loc)
	}
}
