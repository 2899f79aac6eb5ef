package usecase

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"easel-ai/internal/domain"
)

func TestResolveProvider(t *testing.T) {
	f := NewFacade(nil, nil, slog.Default())
	f.ModelOverrides = map[string]string{"my-tuned-model": "google"}

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-5", "anthropic"},
		{"claude-3-5-haiku-latest", "anthropic"},
		{"gpt-4o", "openai"},
		{"gpt-5", "openai"},
		{"o3-mini", "openai"},
		{"chatgpt-4o-latest", "openai"},
		{"gemini-2.5-flash", "google"},
		{"llama3.2", "compat"},
		{"qwen2.5-coder", "compat"},
		{"my-tuned-model", "google"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, f.ResolveProvider(tc.model), tc.model)
	}
}

func TestStreamRequestRequiresAPIKey(t *testing.T) {
	client := &fakeClient{name: "anthropic"}
	reg := &fakeRegistry{clients: map[string]domain.ProviderClient{"anthropic": client}}
	settings := domain.SettingsFunc(func() domain.Settings {
		return domain.Settings{Providers: map[string]domain.ProviderSettings{}}
	})
	f := NewFacade(reg, settings, slog.Default())
	f.DefaultModel = "claude-sonnet-4-5"

	_, _, err := f.StreamRequest(context.Background(), domain.Request{}, nil, domain.ProviderSessionState{})
	require.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, 0, client.callCount())
}

func TestStreamRequestCompatWorksWithoutKey(t *testing.T) {
	client := &fakeClient{name: "compat", scripts: [][]domain.ActionEvent{{}}}
	reg := &fakeRegistry{clients: map[string]domain.ProviderClient{"compat": client}}
	f := NewFacade(reg, testSettings(), slog.Default())

	_, provider, err := f.StreamRequest(context.Background(),
		domain.Request{ModelName: "llama3.2"}, nil, domain.ProviderSessionState{})
	require.NoError(t, err)
	assert.Equal(t, "compat", provider)
}

func TestStreamRequestUnknownProvider(t *testing.T) {
	reg := &fakeRegistry{clients: map[string]domain.ProviderClient{}}
	f := NewFacade(reg, testSettings(), slog.Default())
	f.DefaultModel = "claude-sonnet-4-5"

	_, _, err := f.StreamRequest(context.Background(), domain.Request{}, nil, domain.ProviderSessionState{})
	require.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestStreamRequestForwardsSessionContinuity(t *testing.T) {
	client := &fakeClient{name: "openai", scripts: [][]domain.ActionEvent{{}}}
	reg := &fakeRegistry{clients: map[string]domain.ProviderClient{"openai": client}}
	f := NewFacade(reg, testSettings(), slog.Default())

	session := domain.ProviderSessionState{OpenAI: &domain.OpenAISession{ResponseID: "resp_9"}}
	_, _, err := f.StreamRequest(context.Background(),
		domain.Request{ModelName: "gpt-4o"}, nil, session)
	require.NoError(t, err)
	assert.Equal(t, "resp_9", client.call(0).PreviousResponseID)

	// Continuity state is provider-scoped: an anthropic model ignores it.
	anthropicClient := &fakeClient{name: "anthropic", scripts: [][]domain.ActionEvent{{}}}
	reg.clients["anthropic"] = anthropicClient
	_, _, err = f.StreamRequest(context.Background(),
		domain.Request{ModelName: "claude-sonnet-4-5"}, nil, session)
	require.NoError(t, err)
	assert.Empty(t, anthropicClient.call(0).PreviousResponseID)
}

func TestStreamRequestCarriesSettings(t *testing.T) {
	client := &fakeClient{name: "anthropic", scripts: [][]domain.ActionEvent{{}}}
	reg := &fakeRegistry{clients: map[string]domain.ProviderClient{"anthropic": client}}
	settings := domain.SettingsFunc(func() domain.Settings {
		return domain.Settings{
			Providers:          map[string]domain.ProviderSettings{"anthropic": {APIKey: "sk-test"}},
			MaxTokens:          2048,
			Temperature:        0.7,
			CustomSystemPrompt: "Prefer sticky notes.",
		}
	})
	f := NewFacade(reg, settings, slog.Default())
	f.EnableCaching = true

	_, _, err := f.StreamRequest(context.Background(),
		domain.Request{ModelName: "claude-sonnet-4-5", Messages: []string{"hello"}},
		nil, domain.ProviderSessionState{})
	require.NoError(t, err)

	opts := client.call(0)
	assert.Equal(t, "sk-test", opts.APIKey)
	assert.Equal(t, 2048, opts.MaxTokens)
	assert.Equal(t, 0.7, opts.Temperature)
	assert.True(t, opts.EnableCaching)
	assert.Contains(t, opts.System, "Prefer sticky notes.")
	assert.Contains(t, opts.System, `"actions"`)
}
