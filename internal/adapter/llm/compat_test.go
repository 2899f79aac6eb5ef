package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"easel-ai/internal/domain"
	"easel-ai/internal/infra/config"
	"easel-ai/internal/usecase/streamparse"
)

func TestTransformCompatBuffer(t *testing.T) {
	t.Run("json object passes through", func(t *testing.T) {
		in := []byte(`{"actions": [{"_type": "message"}]}`)
		if got := transformCompatBuffer(in); string(got) != string(in) {
			t.Errorf("got %s", got)
		}
	})

	t.Run("marker lines become synthetic actions", func(t *testing.T) {
		in := []byte("ACTION: {\"_type\": \"create\", \"x\": 1}\nACTION: {\"_type\": \"message\", \"text\": \"hi\"}")
		got := transformCompatBuffer(in)
		want := `{"actions": [{"_type": "create", "x": 1}, {"_type": "message", "text": "hi"}`
		if string(got) != want {
			t.Errorf("got %s, want %s", got, want)
		}
		actions, ok := streamparse.Parse(got)
		if !ok || len(actions) != 2 {
			t.Fatalf("synthetic buffer unparseable: ok=%v actions=%v", ok, actions)
		}
	})

	t.Run("partial trailing line repairs", func(t *testing.T) {
		in := []byte("ACTION: {\"_type\": \"message\", \"text\": \"par")
		actions, ok := streamparse.Parse(transformCompatBuffer(in))
		if !ok || len(actions) != 1 || actions[0]["text"] != "par" {
			t.Fatalf("ok=%v actions=%v", ok, actions)
		}
	})

	t.Run("non-marker chatter is ignored", func(t *testing.T) {
		in := []byte("Sure, here is what I'll do:\nACTION: {\"_type\": \"todo\"}")
		actions, ok := streamparse.Parse(transformCompatBuffer(in))
		if !ok || len(actions) != 1 || actions[0]["_type"] != "todo" {
			t.Fatalf("ok=%v actions=%v", ok, actions)
		}
	})
}

func TestCompatStreamActionsMarkerSyntax(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+compatPlaceholderKey {
			t.Errorf("expected placeholder bearer token, got %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`{"choices": [{"delta": {"content": "ACTION: {\"_type\": \"create\", \"x\": 1}\n"}}]}`,
			`{"choices": [{"delta": {"content": "ACTION: {\"_type\": \"message\", \"text\": \"done\"}"}}]}`,
			`{"choices": [], "usage": {"prompt_tokens": 4, "completion_tokens": 6, "total_tokens": 10}}`,
			`[DONE]`,
		}
		for _, line := range lines {
			io.WriteString(w, "data: "+line+"\n\n")
		}
	}))
	defer server.Close()

	client := NewCompatClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		Model:    "qwen3-8b",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	events := collectEvents(t, ch)

	finals := completeActions(events)
	if len(finals) != 2 {
		t.Fatalf("got %d complete actions, want 2: %+v", len(finals), finals)
	}
	if finals[0].Type != domain.ActionCreate || finals[1].Text("text") != "done" {
		t.Errorf("finals = %+v", finals)
	}
	if finalMeta(t, events).Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", finalMeta(t, events).Usage)
	}
}

func TestCompatStreamActionsJSONSyntax(t *testing.T) {
	server := newSSEServer(t,
		`{"choices": [{"delta": {"content": "{\"actions\": [{\"_type\": \"message\", \"text\": \"plain\"}]}"}}]}`,
		`[DONE]`,
	)
	defer server.Close()

	client := NewCompatClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		Model:    "qwen3-8b",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("StreamActions: %v", err)
	}
	finals := completeActions(collectEvents(t, ch))
	if len(finals) != 1 || finals[0].Text("text") != "plain" {
		t.Fatalf("finals = %+v", finals)
	}
}

func TestCompatRetriesWithoutResponseFormat(t *testing.T) {
	var formats []*openaiRespFormat
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req openaiChatRequest
		json.Unmarshal(body, &req)
		formats = append(formats, req.ResponseFormat)

		if len(formats) == 1 {
			http.Error(w, `{"error": "response_format is not supported"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\": [{\"delta\": {\"content\": \"{\\\"actions\\\": []}\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewCompatClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		Model:    "qwen3-8b",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("expected retry without response_format, got %v", err)
	}
	collectEvents(t, ch)

	if len(formats) != 2 {
		t.Fatalf("got %d requests, want 2", len(formats))
	}
	if formats[0] == nil {
		t.Error("first request should carry response_format")
	}
	if formats[1] != nil {
		t.Error("second request should omit response_format")
	}
}

func TestCompatDoesNotRetryTransientFailures(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, `{"error": "rate limit exceeded, retry later"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewCompatClient(config.ProviderConfig{BaseURL: server.URL}, newTestLogger())
	_, err := client.StreamActions(context.Background(), domain.StreamOptions{
		Model:    "qwen3-8b",
		Messages: []domain.ModelMessage{domain.TextMessage(domain.RoleUser, "hi")},
	})
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Fatalf("err = %v, want rate limit", err)
	}
	if requests != 1 {
		t.Fatalf("got %d requests, want 1: a throttle must not trigger an unstructured reissue", requests)
	}
}

func TestCompatRequiresBaseURL(t *testing.T) {
	client := NewCompatClient(config.ProviderConfig{}, newTestLogger())
	_, err := client.StreamActions(context.Background(), domain.StreamOptions{Model: "m"})
	if err == nil {
		t.Fatal("expected error without base URL")
	}
}

func TestCompatBaseURLFromOptions(t *testing.T) {
	server := newSSEServer(t, `{"choices": [{"delta": {"content": "{\"actions\": []}"}}]}`, `[DONE]`)
	defer server.Close()

	client := NewCompatClient(config.ProviderConfig{}, newTestLogger())
	ch, err := client.StreamActions(context.Background(), domain.StreamOptions{
		Model:   "m",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("StreamActions with per-request base URL: %v", err)
	}
	collectEvents(t, ch)
}
