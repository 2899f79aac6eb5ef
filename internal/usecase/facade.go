// Package usecase contains the request/action orchestrator and the
// streaming facade that turns a request into a normalized action stream.
package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/tracer"
	"easel-ai/internal/usecase/retry"
)

// ProviderRegistry resolves provider names to client instances.
type ProviderRegistry interface {
	Get(name string) (domain.ProviderClient, error)
}

// Facade resolves model→provider, gathers settings and session continuity,
// and forwards to the chosen provider client with stream-creation retries.
type Facade struct {
	registry ProviderRegistry
	settings domain.SettingsSource
	logger   *slog.Logger

	// ModelOverrides force specific model names onto a provider, checked
	// before the prefix rules.
	ModelOverrides map[string]string
	// DefaultModel is used when a request names no model.
	DefaultModel string
	// EnableCaching turns on provider prompt caching where supported.
	EnableCaching bool
	// Retry tunes stream-creation retries.
	Retry retry.Options
}

// NewFacade creates a streaming facade.
func NewFacade(registry ProviderRegistry, settings domain.SettingsSource, logger *slog.Logger) *Facade {
	return &Facade{
		registry: registry,
		settings: settings,
		logger:   logger,
	}
}

// ResolveProvider maps a model name onto the closed provider set: explicit
// overrides first, then vendor prefix conventions, else the self-hosted
// compatible backend.
func (f *Facade) ResolveProvider(model string) string {
	if name, ok := f.ModelOverrides[model]; ok {
		return name
	}
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	default:
		return "compat"
	}
}

// StreamRequest opens a provider action stream for the given request,
// history, and session state. The returned provider name lets the caller
// route the resulting session update.
func (f *Facade) StreamRequest(ctx context.Context, req domain.Request, history []domain.HistoryItem, session domain.ProviderSessionState) (<-chan domain.ActionEvent, string, error) {
	model := req.ModelName
	if model == "" {
		model = f.DefaultModel
	}
	providerName := f.ResolveProvider(model)

	ctx, span := tracer.StartSpan(ctx, "agent.request",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", providerName),
			tracer.StringAttr("llm.model", model),
		),
	)
	defer span.End()

	client, err := f.registry.Get(providerName)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, providerName, err
	}

	settings := f.settings.GetSettings()
	providerSettings := settings.Providers[providerName]
	if providerSettings.APIKey == "" && providerName != "compat" {
		err := fmt.Errorf("%w: no API key configured for %s", domain.ErrAuthInvalid, providerName)
		tracer.RecordError(span, err)
		return nil, providerName, err
	}

	opts := domain.StreamOptions{
		APIKey:        providerSettings.APIKey,
		Model:         model,
		System:        BuildSystemPrompt(settings.CustomSystemPrompt),
		Messages:      BuildMessages(history, req),
		MaxTokens:     settings.MaxTokens,
		Temperature:   settings.Temperature,
		BaseURL:       providerSettings.BaseURL,
		EnableCaching: f.EnableCaching,
	}
	if providerName == "openai" && session.OpenAI != nil {
		opts.PreviousResponseID = session.OpenAI.ResponseID
	}

	if err := GuardContextSize(model, opts); err != nil {
		tracer.RecordError(span, err)
		return nil, providerName, err
	}

	retryOpts := f.Retry
	retryOpts.Logger = f.logger
	ch, err := retry.Stream(ctx, retryOpts, func() (<-chan domain.ActionEvent, error) {
		return client.StreamActions(ctx, opts)
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, providerName, err
	}
	tracer.SetOK(span)

	f.logger.Debug("action stream opened",
		"provider", providerName,
		"model", model,
		"messages", len(opts.Messages),
	)
	return ch, providerName, nil
}

// TestConnection probes a provider with the configured key.
func (f *Facade) TestConnection(ctx context.Context, providerName string) (*domain.ConnectionResult, error) {
	client, err := f.registry.Get(providerName)
	if err != nil {
		return nil, err
	}
	settings := f.settings.GetSettings()
	return client.TestConnection(ctx, settings.Providers[providerName].APIKey)
}
