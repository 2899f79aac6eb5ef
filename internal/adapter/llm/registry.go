package llm

import (
	"fmt"
	"log/slog"
	"sync"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
)

// Provider names form a closed set; model-name prefixes and overrides map
// onto these four backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderCompat    = "compat"
)

// Registry lazily constructs and caches one client per backend. Clients are
// stateless and safe for concurrent use, so the cached instance is shared.
type Registry struct {
	mu      sync.Mutex
	clients map[string]domain.ProviderClient

	providerCfg map[string]config.ProviderConfig
	breakerCfg  config.CircuitBreakerConfig
	logger      *slog.Logger
}

// NewRegistry creates a registry over the closed provider set.
func NewRegistry(providerCfg map[string]config.ProviderConfig, breakerCfg config.CircuitBreakerConfig, logger *slog.Logger) *Registry {
	return &Registry{
		clients:     make(map[string]domain.ProviderClient),
		providerCfg: providerCfg,
		breakerCfg:  breakerCfg,
		logger:      logger,
	}
}

// Get returns the client for a backend, constructing it on first use.
// Unknown names yield ErrProviderNotFound.
func (r *Registry) Get(name string) (domain.ProviderClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	cfg := r.providerCfg[name]
	cfg.Name = name

	var client domain.ProviderClient
	switch name {
	case ProviderAnthropic:
		client = NewAnthropicClient(cfg, r.logger)
	case ProviderOpenAI:
		client = NewOpenAIClient(cfg, r.logger)
	case ProviderGoogle:
		client = NewGoogleClient(cfg, r.logger)
	case ProviderCompat:
		client = NewCompatClient(cfg, r.logger)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, name)
	}

	if r.breakerCfg.Enabled {
		client = NewCircuitBreakerClient(client, r.breakerCfg, r.logger)
	}

	r.clients[name] = client
	return client, nil
}

// List returns the provider names this registry can construct.
func (r *Registry) List() []string {
	return []string{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderCompat}
}
