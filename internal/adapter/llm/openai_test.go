package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
)

func openaiChatLines() []string {
	return []string{
		`{"id": "chatcmpl-1", "choices": [{"delta": {"content": "{\"actions\": [{\"_type\": \"message\", "}, "finish_reason": null}]}`,
		`{"id": "chatcmpl-1", "choices": [{"delta": {"content": "\"text\": \"Hello\"}]}"}, "finish_reason": "stop"}]}`,
		`{"id": "chatcmpl-1", "choices": [], "usage": {"prompt_tokens": 20, "completion_tokens": 9, "total_tokens": 29}}`,
		`[DONE]`,
	}
}

func TestOpenAIStreamActionsChatPath(t *testing.T) {
	var gotReq openaiChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %s", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range openaiChatLines() {
			io.WriteString(w, "data: "+line+"\n\n")
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		APIKey:   "test-key",
		Model:    "gpt-4o",
		System:   "sys",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	events := collectEvents(t, ch)

	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Errorf("missing response_format json_object: %+v", gotReq.ResponseFormat)
	}
	if gotReq.Messages[0].Role != "system" {
		t.Errorf("first message role = %s, want system", gotReq.Messages[0].Role)
	}

	finals := completeActions(events)
	if len(finals) != 1 || finals[0].Text("text") != "Hello" {
		t.Fatalf("complete actions = %+v", finals)
	}

	meta := finalMeta(t, events)
	if meta.Usage.TotalTokens != 29 {
		t.Errorf("usage = %+v", meta.Usage)
	}
	// Chat completions never yield continuable server-side state.
	if meta.ResponseID != "" {
		t.Errorf("chat path leaked a response ID: %q", meta.ResponseID)
	}
}

func TestOpenAIStreamActionsResponsesPath(t *testing.T) {
	var gotReq openaiResponsesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)

		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`{"type": "response.output_text.delta", "delta": "{\"actions\": [{\"_type\": \"message\", \"text\": \"hi\"}]}"}`,
			`{"type": "response.completed", "response": {"id": "resp_abc", "usage": {"input_tokens": 5, "output_tokens": 7, "total_tokens": 12}}}`,
		}
		for _, line := range lines {
			io.WriteString(w, "data: "+line+"\n\n")
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		APIKey:             "test-key",
		Model:              "gpt-4o",
		Messages:           []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "again")},
		PreviousResponseID: "resp_prev",
	})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	events := collectEvents(t, ch)

	if gotReq.PreviousResponseID != "resp_prev" {
		t.Errorf("previous_response_id = %q", gotReq.PreviousResponseID)
	}
	if !gotReq.Store {
		t.Error("responses request must store server-side state")
	}

	meta := finalMeta(t, events)
	if meta.ResponseID != "resp_abc" {
		t.Errorf("response ID = %q, want resp_abc", meta.ResponseID)
	}
	if meta.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", meta.Usage)
	}
}

func TestOpenAIResponsesFallbackToChat(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/responses" {
			http.Error(w, `{"error": {"message": "previous response not found"}}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range openaiChatLines() {
			io.WriteString(w, "data: "+line+"\n\n")
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		APIKey:             "test-key",
		Model:              "gpt-4o",
		Messages:           []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
		PreviousResponseID: "resp_expired",
	})
	if err != nil {
		t.Fatalf("expected transparent fallback, got %v", err)
	}
	events := collectEvents(t, ch)

	if len(paths) != 2 || paths[0] != "/responses" || paths[1] != "/chat/completions" {
		t.Fatalf("request paths = %v", paths)
	}
	if len(completeActions(events)) != 1 {
		t.Errorf("expected one complete action after fallback")
	}
	if finalMeta(t, events).ResponseID != "" {
		t.Error("fallback chat stream must not emit a response ID")
	}
}

func TestOpenAIResponsesContentTypes(t *testing.T) {
	items := toOpenAIRespContent(domain.ModelMessage{
		Role: domain.RoleAssistant,
		Parts: []domain.ContentPart{
			{Text: "prior reply"},
		},
	})
	if items[0].Type != "output_text" {
		t.Errorf("assistant content type = %s, want output_text", items[0].Type)
	}

	items = toOpenAIRespContent(domain.ModelMessage{
		Role: domain.RoleUser,
		Parts: []domain.ContentPart{
			{Text: "look"},
			{Image: &domain.ImagePart{MimeType: "image/png", Data: "aWJt"}},
		},
	})
	if items[0].Type != "input_text" {
		t.Errorf("user content type = %s, want input_text", items[0].Type)
	}
	if items[1].Type != "input_image" || items[1].ImageURL != "data:image/png;base64,aWJt" {
		t.Errorf("image item = %+v", items[1])
	}
}

func TestOpenAITestConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		io.WriteString(w, `{"data": [{"id": "gpt-4o"}, {"id": "gpt-4o-mini"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	result, err := client.TestConnection(context.Background(), "test-key")
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if len(result.Models) != 2 || result.Models[1] != "gpt-4o-mini" {
		t.Errorf("models = %v", result.Models)
	}
}
