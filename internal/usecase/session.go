package usecase

import (
	"sync"

	"easel-ai/internal/domain"
)

// sessionTracker holds per-provider continuity state between requests.
// In-memory only; Reset wipes it, nothing ever persists it.
type sessionTracker struct {
	mu    sync.Mutex
	state domain.ProviderSessionState
}

// Snapshot returns a copy safe to hand to a request in flight.
func (t *sessionTracker) Snapshot() domain.ProviderSessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out domain.ProviderSessionState
	if t.state.Anthropic != nil {
		s := *t.state.Anthropic
		out.Anthropic = &s
	}
	if t.state.OpenAI != nil {
		s := *t.state.OpenAI
		out.OpenAI = &s
	}
	return out
}

// Update folds a completed stream's metadata into the provider's entry.
func (t *sessionTracker) Update(provider string, up domain.SessionUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch provider {
	case "anthropic":
		// Rolling value: true only when this request freshly created a
		// cache entry.
		t.state.Anthropic = &domain.AnthropicSession{
			CacheCreated: up.Cache != nil && up.Cache.Created > 0,
		}
	case "openai":
		if up.ResponseID != "" {
			t.state.OpenAI = &domain.OpenAISession{ResponseID: up.ResponseID}
		}
	}
}

// Reset clears every provider entry.
func (t *sessionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = domain.ProviderSessionState{}
}
