package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
)

func TestGoogleStreamActionsFiltersThinking(t *testing.T) {
	var gotReq geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("missing alt=sse, query: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query")
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`{"candidates": [{"content": {"parts": [{"text": "Considering layout options", "thought": true}]}}]}`,
			`{"candidates": [{"content": {"parts": [{"text": "{\"actions\": [{\"_type\": \"message\", "}]}}]}`,
			`{"candidates": [{"content": {"parts": [{"text": "\"text\": \"done\"}]}"}]}}], "usageMetadata": {"promptTokenCount": 15, "candidatesTokenCount": 6, "totalTokenCount": 21}}`,
		}
		for _, line := range lines {
			io.WriteString(w, "data: "+line+"\n\n")
		}
	}))
	defer server.Close()

	client := NewGoogleClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		APIKey:   "test-key",
		Model:    "gemini-2.5-flash",
		System:   "sys",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	events := collectEvents(t, ch)

	if gotReq.GenerationConfig == nil || gotReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("generation config = %+v", gotReq.GenerationConfig)
	}
	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "sys" {
		t.Error("missing system instruction")
	}

	// Thought text surfaces as a provisional think action, never as
	// response buffer content.
	var sawThinking bool
	for _, ev := range events {
		if ev.Action != nil && ev.Action.Type == domain.ActionThink && !ev.Action.Complete {
			if ev.Action.Text("text") == "Considering layout options" {
				sawThinking = true
			}
		}
	}
	if !sawThinking {
		t.Error("thought part not surfaced as thinking progress")
	}

	finals := completeActions(events)
	if len(finals) != 1 || finals[0].Text("text") != "done" {
		t.Fatalf("complete actions = %+v", finals)
	}
	for _, a := range finals {
		if a.Type == domain.ActionThink {
			t.Error("thought text leaked into finalized actions")
		}
	}

	if finalMeta(t, events).Usage.TotalTokens != 21 {
		t.Errorf("usage = %+v", finalMeta(t, events).Usage)
	}
}

func TestGoogleRoleMapping(t *testing.T) {
	client := NewGoogleClient(config.ProviderConfig{}, newTestLogger())
	req := client.buildRequest(domain.StreamOptions{
		Messages: []domain.ModelMessage{
			domain.TextMessage(domain.RoleUser, "q"),
			domain.TextMessage(domain.RoleAssistant, "a"),
		},
	})
	if req.Contents[0].Role != "user" || req.Contents[1].Role != "model" {
		t.Errorf("roles = %s, %s", req.Contents[0].Role, req.Contents[1].Role)
	}
}

func TestGoogleTestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"models": [{"name": "models/gemini-2.5-flash"}, {"name": "models/gemini-2.5-pro"}]}`)
	}))
	defer server.Close()

	client := NewGoogleClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	result, err := client.TestConnection(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if len(result.Models) != 2 || result.Models[0] != "gemini-2.5-flash" {
		t.Errorf("models = %v", result.Models)
	}
}
