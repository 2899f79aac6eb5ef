package domain

// ProviderSettings is per-provider credential and endpoint configuration.
type ProviderSettings struct {
	APIKey  string
	BaseURL string
}

// Settings is the slice of host configuration this pipeline consumes.
// Persistence and migration belong to the host.
type Settings struct {
	Providers          map[string]ProviderSettings
	MaxTokens          int
	Temperature        float64
	CustomSystemPrompt string
	// CustomSchema holds a host-supplied JSON schema for actions, raw.
	CustomSchema []byte
}

// SettingsSource supplies current settings; read before each request.
type SettingsSource interface {
	GetSettings() Settings
}

// SettingsFunc adapts a function to SettingsSource.
type SettingsFunc func() Settings

func (f SettingsFunc) GetSettings() Settings { return f() }
