package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	OrganisationsChanged bool
	OrgChanges           []OrgDiff
	LogLevelChanged      bool
	NewLogLevel          LogLevel
}

// OrgDiff describes what changed for a single organisation between two
// configs, keyed by org_id.
type OrgDiff struct {
	OrgID   string
	Added   bool
	Removed bool

	// AppConfigsChanged lists config_ids whose localisation set or TTS
	// credentials changed. Populated only when neither Added nor Removed.
	AppConfigsChanged []string
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldOrgs := make(map[string]*OrganisationConfig, len(old.Organisations))
	for i := range old.Organisations {
		oldOrgs[old.Organisations[i].OrgID] = &old.Organisations[i]
	}
	newOrgs := make(map[string]*OrganisationConfig, len(new.Organisations))
	for i := range new.Organisations {
		newOrgs[new.Organisations[i].OrgID] = &new.Organisations[i]
	}

	for orgID, oldOrg := range oldOrgs {
		newOrg, exists := newOrgs[orgID]
		if !exists {
			d.OrgChanges = append(d.OrgChanges, OrgDiff{OrgID: orgID, Removed: true})
			d.OrganisationsChanged = true
			continue
		}
		if changed := diffAppConfigs(oldOrg, newOrg); len(changed) > 0 {
			d.OrgChanges = append(d.OrgChanges, OrgDiff{OrgID: orgID, AppConfigsChanged: changed})
			d.OrganisationsChanged = true
		}
	}

	for orgID := range newOrgs {
		if _, exists := oldOrgs[orgID]; !exists {
			d.OrgChanges = append(d.OrgChanges, OrgDiff{OrgID: orgID, Added: true})
			d.OrganisationsChanged = true
		}
	}

	return d
}

// diffAppConfigs returns the config_ids of appConfigs whose localisation set
// or TTS credentials differ between old and new.
func diffAppConfigs(old, new *OrganisationConfig) []string {
	oldByID := make(map[string]*AppConfig, len(old.Configs))
	for i := range old.Configs {
		oldByID[old.Configs[i].ConfigID] = &old.Configs[i]
	}

	var changed []string
	for i := range new.Configs {
		newCfg := &new.Configs[i]
		oldCfg, exists := oldByID[newCfg.ConfigID]
		if !exists {
			changed = append(changed, newCfg.ConfigID)
			continue
		}
		if !appConfigsEqual(oldCfg, newCfg) {
			changed = append(changed, newCfg.ConfigID)
		}
	}
	newIDs := make(map[string]bool, len(new.Configs))
	for i := range new.Configs {
		newIDs[new.Configs[i].ConfigID] = true
	}
	for i := range old.Configs {
		if !newIDs[old.Configs[i].ConfigID] {
			changed = append(changed, old.Configs[i].ConfigID)
		}
	}
	return changed
}

// appConfigsEqual reports whether two app configs have identical
// hot-reloadable content (TTS credentials and localisations).
func appConfigsEqual(a, b *AppConfig) bool {
	if !ttsAuthEqual(a.TTS, b.TTS) {
		return false
	}
	if len(a.Localisations) != len(b.Localisations) {
		return false
	}
	bByLang := make(map[string]LocalisationConfig, len(b.Localisations))
	for _, loc := range b.Localisations {
		bByLang[loc.Language] = loc
	}
	for _, loc := range a.Localisations {
		other, ok := bByLang[loc.Language]
		if !ok || !localisationEqual(loc, other) {
			return false
		}
	}
	return true
}

func localisationEqual(a, b LocalisationConfig) bool {
	if a.Language != b.Language || a.AssistantID != b.AssistantID || a.AssistantKey != b.AssistantKey ||
		a.GeneratorModel != b.GeneratorModel || a.SystemPrompt != b.SystemPrompt ||
		a.GeneratorFormatTextPromptURL != b.GeneratorFormatTextPromptURL ||
		a.ValidatorSystemPromptTemplateURL != b.ValidatorSystemPromptTemplateURL ||
		a.ValidatorTranscriptPromptTemplateURL != b.ValidatorTranscriptPromptTemplateURL ||
		a.UseSectionedOutput != b.UseSectionedOutput {
		return false
	}
	return ttsModelEqual(a.TTSModel, b.TTSModel)
}

func ttsAuthEqual(a, b *TTSAuthConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return *a == *b
}

func ttsModelEqual(a, b *TTSModelConfig) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	if a.VoiceID != b.VoiceID || a.Provider != b.Provider || a.PhonemeURL != b.PhonemeURL {
		return false
	}
	if (a.PitchShift == nil) != (b.PitchShift == nil) {
		return false
	}
	return a.PitchShift == nil || *a.PitchShift == *b.PitchShift
}
