package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
)

func newTestRegistry(breaker config.CircuitBreakerConfig) *Registry {
	return NewRegistry(map[string]config.ProviderConfig{}, breaker, newTestLogger())
}

func TestRegistryClosedSet(t *testing.T) {
	r := newTestRegistry(config.CircuitBreakerConfig{})

	for _, name := range r.List() {
		client, err := r.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if client.Name() != name {
			t.Errorf("Name() = %s, want %s", client.Name(), name)
		}
	}

	_, err := r.Get("mistral")
	if !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("unknown provider: got %v, want ErrProviderNotFound", err)
	}
}

func TestRegistryCachesInstances(t *testing.T) {
	r := newTestRegistry(config.CircuitBreakerConfig{})

	first, _ := r.Get(ProviderAnthropic)
	second, _ := r.Get(ProviderAnthropic)
	if first != second {
		t.Error("expected the same cached client instance")
	}
}

func TestRegistryWrapsWithBreaker(t *testing.T) {
	r := newTestRegistry(config.CircuitBreakerConfig{Enabled: true})

	client, err := r.Get(ProviderOpenAI)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := client.(*CircuitBreakerClient); !ok {
		t.Errorf("expected breaker-wrapped client, got %T", client)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	inner := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	client := NewCircuitBreakerClient(inner, config.CircuitBreakerConfig{MaxFailures: 2}, newTestLogger())

	opts := domain.StreamOptions{APIKey: "k", Model: "m"}
	for i := 0; i < 2; i++ {
		if _, err := client.StreamActions(context.Background(), opts); err == nil {
			t.Fatal("expected failure")
		}
	}

	// Circuit is open now: the next call fails fast without a request.
	before := calls
	_, err := client.StreamActions(context.Background(), opts)
	if err == nil {
		t.Fatal("expected open-circuit failure")
	}
	if !domain.IsRetryableError(err) {
		t.Errorf("open circuit should classify as retryable server trouble: %v", err)
	}
	if calls != before {
		t.Errorf("open circuit still reached the server (%d calls)", calls-before)
	}
}

func TestCircuitBreakerPassesSuccess(t *testing.T) {
	server := newSSEServer(t, `{"choices": [{"delta": {"content": "{\"actions\": []}"}}]}`, `[DONE]`)
	defer server.Close()

	inner := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	client := NewCircuitBreakerClient(inner, config.CircuitBreakerConfig{}, newTestLogger())

	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	events := collectEvents(t, ch)
	if finalMeta(t, events) == nil {
		t.Fatal("expected metadata event")
	}
}
